package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/gabrieltornquist7/history-clue/internal/battle"
	"github.com/gabrieltornquist7/history-clue/internal/gateway"
	"github.com/gabrieltornquist7/history-clue/internal/handler/health"
	"github.com/gabrieltornquist7/history-clue/internal/realtime"
)

type battlePath struct {
	ID string `path:"id"`
}

type roundPath struct {
	ID string `path:"id"`
}

type puzzlePath struct {
	ID string `path:"id"`
}

type invitePath struct {
	Code string `path:"code"`
}

type queuePlayerPath struct {
	PlayerID string `path:"playerID"`
}

type playerBattleQuery struct {
	ID    string `path:"id"`
	Since string `query:"since" description:"Only battles started at or after this RFC 3339 time."`
}

type topicPath struct {
	Name string `path:"topic" description:"table:battles, table:battle_rounds or battle:{id}"`
}

type startRoundRequest struct {
	battlePath
	gateway.StartRoundRequest
}

type completeBattleRequest struct {
	battlePath
	gateway.CompleteRequest
}

type guessRequest struct {
	roundPath
	gateway.GuessRequest
}

type completeRoundRequest struct {
	roundPath
	gateway.CompleteRequest
}

type broadcastRequest struct {
	topicPath
	realtime.Event
}

type op struct {
	method      string
	path        string
	summary     string
	description string
	req         any
	resp        any
	status      int
	errors      []int
}

var operations = []op{
	{http.MethodGet, "/healthz", "Health check",
		"Reports each backend dependency. Optional dependencies only degrade the status.",
		nil, health.Response{}, http.StatusOK, []int{http.StatusServiceUnavailable}},

	{http.MethodPost, "/api/battles", "Create battle",
		"Creates a waiting battle hosted by the player and returns its invite code.",
		gateway.PlayerRequest{}, battle.Created{}, http.StatusCreated, []int{http.StatusBadRequest}},
	{http.MethodPost, "/api/battles/join", "Join battle",
		"Joins a waiting battle by invite code, activating it and starting round 1.",
		gateway.JoinRequest{}, battle.Joined{}, http.StatusOK,
		[]int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}},
	{http.MethodGet, "/api/battles/{id}", "Get battle", "",
		battlePath{}, battle.Match{}, http.StatusOK, []int{http.StatusNotFound}},
	{http.MethodPost, "/api/battles/{id}/complete", "Complete battle",
		"Marks an active battle completed. Completing an already completed battle reports changed=false.",
		completeBattleRequest{}, gateway.ChangedResponse{}, http.StatusOK, []int{http.StatusConflict}},
	{http.MethodGet, "/api/battles/{id}/rounds", "List rounds", "",
		battlePath{}, []battle.Round{}, http.StatusOK, nil},
	{http.MethodPost, "/api/battles/{id}/rounds", "Start round",
		"Creates the next round. Returns 200 with the existing round when it was already started.",
		startRoundRequest{}, gateway.StartRoundResponse{}, http.StatusCreated, []int{http.StatusBadRequest, http.StatusConflict}},
	{http.MethodGet, "/api/battles/{id}/rounds/current", "Current round", "",
		battlePath{}, battle.Round{}, http.StatusOK, []int{http.StatusNotFound}},
	{http.MethodGet, "/api/battles/invite/{code}/qr.png", "Invite QR code",
		"PNG QR code encoding the public join link for an invite code.",
		invitePath{}, nil, http.StatusOK, []int{http.StatusNotFound}},
	{http.MethodGet, "/api/players/{id}/battle", "Find player's battle",
		"Latest active battle the player is in, used to detect being claimed from the queue.",
		playerBattleQuery{}, battle.Match{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusNotFound}},

	{http.MethodGet, "/api/rounds/{id}", "Get round", "",
		roundPath{}, battle.Round{}, http.StatusOK, []int{http.StatusNotFound}},
	{http.MethodPost, "/api/rounds/{id}/guess", "Submit guess",
		"Records a scored guess. Each player may submit once per round.",
		guessRequest{}, nil, http.StatusNoContent,
		[]int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity}},
	{http.MethodPost, "/api/rounds/{id}/complete", "Complete round",
		"Completes a round once both guesses are in and adds the scores to the battle totals.",
		completeRoundRequest{}, gateway.ChangedResponse{}, http.StatusOK, []int{http.StatusConflict}},

	{http.MethodGet, "/api/puzzles/{id}", "Get puzzle", "",
		puzzlePath{}, battle.Puzzle{}, http.StatusOK, []int{http.StatusNotFound}},

	{http.MethodPost, "/api/queue", "Enter matchmaking",
		"Returns the entry with the backend's enqueue time; battles started at or after it may be claims.",
		gateway.PlayerRequest{}, battle.QueueEntry{}, http.StatusOK, []int{http.StatusBadRequest}},
	{http.MethodGet, "/api/queue", "List waiting players", "Oldest first.",
		nil, []battle.QueueEntry{}, http.StatusOK, nil},
	{http.MethodPost, "/api/queue/claim", "Claim opponent",
		"Removes both players from the queue and starts a battle between them.",
		gateway.ClaimRequest{}, battle.Joined{}, http.StatusCreated, []int{http.StatusConflict, http.StatusUnprocessableEntity}},
	{http.MethodDelete, "/api/queue/{playerID}", "Leave matchmaking", "",
		queuePlayerPath{}, nil, http.StatusNoContent, nil},

	{http.MethodGet, "/realtime/{topic}", "Event stream",
		"Upgrades to a WebSocket streaming JSON realtime events for the topic.",
		topicPath{}, nil, http.StatusSwitchingProtocols, []int{http.StatusNotFound}},
	{http.MethodPost, "/realtime/{topic}", "Broadcast",
		"Publishes an ephemeral event to a battle:{id} topic.",
		broadcastRequest{}, nil, http.StatusAccepted, []int{http.StatusBadRequest}},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "History Clue Battle API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend for live two-player history guessing battles.")

	for _, o := range operations {
		oc, err := r.NewOperationContext(o.method, o.path)
		if err != nil {
			continue
		}
		oc.SetSummary(o.summary)
		if o.description != "" {
			oc.SetDescription(o.description)
		}
		if o.req != nil {
			oc.AddReqStructure(o.req)
		}
		switch {
		case o.status == http.StatusSwitchingProtocols:
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(o.status), openapi.WithContentType("text/plain"))
		case o.resp == nil && o.method == http.MethodGet:
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(o.status), openapi.WithContentType("image/png"))
		default:
			oc.AddRespStructure(o.resp, openapi.WithHTTPStatus(o.status))
		}
		for _, status := range o.errors {
			if o.path == "/healthz" {
				oc.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(status))
				continue
			}
			oc.AddRespStructure(gateway.ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
