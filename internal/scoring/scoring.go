// Package scoring turns a guess into round points. It is pure: the same
// inputs always produce the same score, which lets both players trust the
// number their opponent's client submitted.
package scoring

import (
	"math"
	"time"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
)

const earthRadiusKm = 6371.0

// Config holds the tunable weights. The caps are fractions of the base
// score. MaxScore is the ceiling for a round: a perfect one-clue guess
// scores exactly the top base score, bonuses included.
type Config struct {
	BaseScores         []int         `env:"BASE_SCORES" envDefault:"5000,3500,2500,1500,800" envSeparator:","`
	DistanceCap        float64       `env:"DISTANCE_CAP" envDefault:"0.5"`
	DistanceScaleKm    float64       `env:"DISTANCE_SCALE_KM" envDefault:"5000"`
	YearCap            float64       `env:"YEAR_CAP" envDefault:"0.3"`
	YearScale          float64       `env:"YEAR_SCALE" envDefault:"500"`
	TimeBonusCap       float64       `env:"TIME_BONUS_CAP" envDefault:"0.2"`
	TimeBonusThreshold time.Duration `env:"TIME_BONUS_THRESHOLD" envDefault:"30s"`
	RoundDuration      time.Duration `env:"ROUND_DURATION" envDefault:"180s"`
	TightRadiusKm      float64       `env:"TIGHT_RADIUS_KM" envDefault:"50"`
	TightBonus         int           `env:"TIGHT_BONUS" envDefault:"1000"`
	NearRadiusKm       float64       `env:"NEAR_RADIUS_KM" envDefault:"200"`
	NearBonus          int           `env:"NEAR_BONUS" envDefault:"500"`
	MaxScore           int           `env:"MAX_SCORE" envDefault:"5000"`
}

// DefaultConfig returns the weights the game shipped with.
func DefaultConfig() Config {
	return Config{
		BaseScores:         []int{5000, 3500, 2500, 1500, 800},
		DistanceCap:        0.5,
		DistanceScaleKm:    5000,
		YearCap:            0.3,
		YearScale:          500,
		TimeBonusCap:       0.2,
		TimeBonusThreshold: 30 * time.Second,
		RoundDuration:      180 * time.Second,
		TightRadiusKm:      50,
		TightBonus:         1000,
		NearRadiusKm:       200,
		NearBonus:          500,
		MaxScore:           5000,
	}
}

type Breakdown struct {
	Base            int     `json:"base"`
	DistancePenalty float64 `json:"distancePenalty"`
	YearPenalty     float64 `json:"yearPenalty"`
	TimeBonus       float64 `json:"timeBonus"`
	ProximityBonus  int     `json:"proximityBonus"`
}

type Result struct {
	FinalScore int       `json:"finalScore"`
	DistanceKm float64   `json:"distanceKm"`
	YearDiff   int       `json:"yearDiff"`
	Breakdown  Breakdown `json:"breakdown"`
}

// Engine scores guesses with a fixed Config.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) Engine {
	if len(cfg.BaseScores) == 0 {
		cfg.BaseScores = DefaultConfig().BaseScores
	}
	return Engine{cfg: cfg}
}

// CalculateScore scores a guess with the default weights.
func CalculateScore(p battle.Puzzle, guessLat, guessLng float64, guessYear, cluesUsed int, timeRemaining time.Duration) Result {
	return NewEngine(DefaultConfig()).Score(p, guessLat, guessLng, guessYear, cluesUsed, timeRemaining)
}

// Score computes the round result for a guess against puzzle p.
func (e Engine) Score(p battle.Puzzle, guessLat, guessLng float64, guessYear, cluesUsed int, timeRemaining time.Duration) Result {
	distance := Haversine(p.Lat, p.Lng, guessLat, guessLng)
	yearDiff := guessYear - p.Year
	if yearDiff < 0 {
		yearDiff = -yearDiff
	}

	b := Breakdown{Base: e.BaseScore(cluesUsed)}
	base := float64(b.Base)
	b.DistancePenalty = e.DistancePenalty(base, distance)
	b.YearPenalty = e.YearPenalty(base, yearDiff)
	b.TimeBonus = e.TimeBonus(base, timeRemaining)
	b.ProximityBonus = e.ProximityBonus(distance)

	final := math.Round(base - b.DistancePenalty - b.YearPenalty + b.TimeBonus + float64(b.ProximityBonus))
	if final < 0 {
		final = 0
	}
	if e.cfg.MaxScore > 0 && final > float64(e.cfg.MaxScore) {
		final = float64(e.cfg.MaxScore)
	}

	return Result{
		FinalScore: int(final),
		DistanceKm: distance,
		YearDiff:   yearDiff,
		Breakdown:  b,
	}
}

// BaseScore looks up the base for the number of clues revealed. The first
// clue is always shown, so counts are clamped to the table.
func (e Engine) BaseScore(cluesUsed int) int {
	n := len(e.cfg.BaseScores)
	switch {
	case cluesUsed < 1:
		cluesUsed = 1
	case cluesUsed > n:
		cluesUsed = n
	}
	return e.cfg.BaseScores[cluesUsed-1]
}

func (e Engine) DistancePenalty(base, distanceKm float64) float64 {
	return capped(base, e.cfg.DistanceCap, distanceKm, e.cfg.DistanceScaleKm)
}

func (e Engine) YearPenalty(base float64, yearDiff int) float64 {
	return capped(base, e.cfg.YearCap, float64(yearDiff), e.cfg.YearScale)
}

// TimeBonus is zero until more than the threshold remains, then grows
// linearly to the cap at a full round.
func (e Engine) TimeBonus(base float64, remaining time.Duration) float64 {
	threshold := e.cfg.TimeBonusThreshold
	if remaining <= threshold {
		return 0
	}
	span := e.cfg.RoundDuration - threshold
	if span <= 0 {
		return base * e.cfg.TimeBonusCap
	}
	frac := float64(remaining-threshold) / float64(span)
	if frac > 1 {
		frac = 1
	}
	return base * e.cfg.TimeBonusCap * frac
}

// ProximityBonus is flat: tight beats near, and they do not stack.
func (e Engine) ProximityBonus(distanceKm float64) int {
	switch {
	case distanceKm < e.cfg.TightRadiusKm:
		return e.cfg.TightBonus
	case distanceKm < e.cfg.NearRadiusKm:
		return e.cfg.NearBonus
	}
	return 0
}

func capped(base, capFrac, x, scale float64) float64 {
	limit := base * capFrac
	if scale <= 0 {
		return limit
	}
	return math.Min(limit, limit*x/scale)
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
