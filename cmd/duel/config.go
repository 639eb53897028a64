package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/lobby"
)

type duelConfig struct {
	server        string
	player        string
	clues         int
	think         time.Duration
	accuracyKm    float64
	yearSpread    int
	pollInterval  time.Duration
	searchTimeout time.Duration
	verbose       bool
}

func (c *duelConfig) validate() error {
	if c.server == "" {
		return errors.New("--server is required")
	}
	if c.clues < 1 || c.clues > 5 {
		return fmt.Errorf("invalid clue count (must be between 1-5 inclusive): %d", c.clues)
	}
	if c.accuracyKm < 0 || c.yearSpread < 0 {
		return errors.New("--accuracy-km and --year-spread must not be negative")
	}
	if c.pollInterval <= 0 {
		return errors.New("--poll-interval must be positive")
	}
	if c.player == "" {
		c.player = "bot-" + uuid.NewString()[:8]
	}
	return nil
}

func newCmd(cfg *duelConfig) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "duel",
		Short: "Play a history guessing battle from the command line.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.validate()
		},
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.server, "server", "s", "http://localhost:8080", "battle service base URL (env: DUEL_SERVER)")
	fs.StringVarP(&cfg.player, "player", "p", "", "player id, random when empty (env: DUEL_PLAYER)")
	fs.IntVar(&cfg.clues, "clues", 2, "clues to reveal before guessing (env: DUEL_CLUES)")
	fs.DurationVar(&cfg.think, "think", 3*time.Second, "time spent before each guess (env: DUEL_THINK)")
	fs.Float64Var(&cfg.accuracyKm, "accuracy-km", 300, "maximum distance of a guess from the answer (env: DUEL_ACCURACY_KM)")
	fs.IntVar(&cfg.yearSpread, "year-spread", 50, "maximum years a guess is off by (env: DUEL_YEAR_SPREAD)")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", lobby.DefaultPollInterval, "match state poll interval (env: DUEL_POLL_INTERVAL)")
	fs.DurationVar(&cfg.searchTimeout, "search-timeout", lobby.DefaultSearchTimeout, "how long to wait for a random opponent (env: DUEL_SEARCH_TIMEOUT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every step (env: DUEL_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(
		&cobra.Command{
			Use:   "host",
			Short: "Create a battle, print its invite code and wait for an opponent.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSession(cmd, cfg, func(s *session) (string, error) { return s.host(cmd.Context()) })
			},
		},
		&cobra.Command{
			Use:   "join CODE",
			Short: "Join a battle by invite code.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := battle.NormalizeInviteCode(args[0]); err != nil {
					return fmt.Errorf("%q: %s", args[0], battle.Message(err))
				}
				return runSession(cmd, cfg, func(s *session) (string, error) { return s.join(cmd.Context(), args[0]) })
			},
		},
		&cobra.Command{
			Use:   "search",
			Short: "Wait in the matchmaking queue for a random opponent.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSession(cmd, cfg, func(s *session) (string, error) { return s.search(cmd.Context()) })
			},
		},
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
