// Package dispatch is the thin connection layer (spec.md §2/§6): it
// authenticates a connection's player identity, routes inbound named
// events to the lobby or the right match's orchestrator, and keeps the
// matchID/playerID registry that lets a later event for the same player
// find its match. It owns no game rules of its own.
package dispatch

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"carclash/internal/catalog"
	"carclash/internal/config"
	"carclash/internal/engine"
	"carclash/internal/lobby"
	"carclash/internal/orchestrator"
	"carclash/internal/ws"
)

var (
	userIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9 _\-.]{2,24}$`)
)

// Dispatcher implements ws.Handler, wiring WebSocket connections into the
// lobby and per-match orchestrators (spec.md §5: matchID/playerID registry
// consistency lives behind a single mutex, generalizing the teacher's
// roomsMu/mu dual-lock pattern into one critical section).
type Dispatcher struct {
	cfg config.Config
	cat *catalog.Catalog
	lob *lobby.Lobby

	mu            sync.Mutex
	playerByConn  map[string]string               // client ID -> authenticated player ID
	matchByPlayer map[string]*orchestrator.Match   // player ID -> match they are currently in
	matches       map[string]*orchestrator.Match   // matchID -> match
}

func New(cfg config.Config, cat *catalog.Catalog) *Dispatcher {
	d := &Dispatcher{
		cfg:           cfg,
		cat:           cat,
		playerByConn:  map[string]string{},
		matchByPlayer: map[string]*orchestrator.Match{},
		matches:       map[string]*orchestrator.Match{},
	}
	d.lob = lobby.New(cfg.Lobby, time.Now, d.onMatchFound)
	return d
}

// HandleConnect implements ws.Handler; a connection has no player identity
// until it sends auth:authenticate.
func (d *Dispatcher) HandleConnect(client *ws.Client) {
	log.Printf("dispatch: connection %s opened", client.ID())
}

// HandleDisconnect implements ws.Handler (spec.md §4.2 "Player disconnect").
func (d *Dispatcher) HandleDisconnect(client *ws.Client) {
	d.mu.Lock()
	playerID, ok := d.playerByConn[client.ID()]
	delete(d.playerByConn, client.ID())
	match := d.matchByPlayer[playerID]
	d.mu.Unlock()

	if !ok {
		return
	}
	d.lob.Cancel(playerID)
	if match != nil {
		match.Disconnect(playerID)
	}
}

// HandleMessage implements ws.Handler, routing one inbound event.
func (d *Dispatcher) HandleMessage(client *ws.Client, event string, data json.RawMessage) {
	switch event {
	case "auth:authenticate":
		d.handleAuthenticate(client, data)
	case "matchmaking:join":
		d.handleMatchmakingJoin(client, data)
	case "matchmaking:cancel":
		d.handleMatchmakingCancel(client)
	case "game:playCard":
		d.handlePlayCard(client, data)
	case "game:advanceTurn":
		d.handleAdvanceTurn(client)
	default:
		client.Send("game:error", errorPayload(fmt.Sprintf("unknown event %q", event)))
	}
}

type authenticateRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// handleAuthenticate binds client to a player identity (spec.md §6
// "auth:authenticate"). A missing or invalid userId/username falls back to
// a generated guest identity rather than rejecting the connection.
func (d *Dispatcher) handleAuthenticate(client *ws.Client, data json.RawMessage) {
	var req authenticateRequest
	_ = json.Unmarshal(data, &req)

	playerID := strings.TrimSpace(req.UserID)
	if !userIDPattern.MatchString(playerID) {
		playerID = "guest-" + shortID(client.ID())
	}
	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		username = "Guest"
	}

	d.mu.Lock()
	d.playerByConn[client.ID()] = playerID
	existingMatch := d.matchByPlayer[playerID]
	d.mu.Unlock()

	client.Send("auth:success", struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}{UserID: playerID, Username: username})

	if existingMatch != nil {
		existingMatch.Reconnect(playerID, client)
	}
}

func shortID(connID string) string {
	if len(connID) > 8 {
		return connID[:8]
	}
	return connID
}

type matchmakingJoinRequest struct {
	Username  string `json:"username"`
	HumanOnly bool   `json:"humanOnly"`
}

func (d *Dispatcher) handleMatchmakingJoin(client *ws.Client, data json.RawMessage) {
	playerID, ok := d.authenticatedPlayer(client)
	if !ok {
		client.Send("game:error", errorPayload("join before authenticating"))
		return
	}

	d.mu.Lock()
	_, inMatch := d.matchByPlayer[playerID]
	d.mu.Unlock()
	if inMatch {
		client.Send("matchmaking:error", errorPayload(fmt.Sprintf("player %q is already in a match", playerID)))
		return
	}

	var req matchmakingJoinRequest
	_ = json.Unmarshal(data, &req)
	displayName := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(displayName) {
		displayName = "Guest"
	}

	if err := d.lob.Join(playerID, displayName, client, req.HumanOnly); err != nil {
		client.Send("matchmaking:error", errorPayload(err.Error()))
		return
	}
	client.Send("matchmaking:joined", struct {
		Message string `json:"message"`
	}{Message: fmt.Sprintf("%s joined matchmaking", displayName)})
}

func (d *Dispatcher) handleMatchmakingCancel(client *ws.Client) {
	playerID, ok := d.authenticatedPlayer(client)
	if !ok {
		return
	}
	d.lob.Cancel(playerID)
}

type playCardRequest struct {
	CardInstanceID string          `json:"cardInstanceId"`
	SelectedMetric *catalog.Metric `json:"selectedMetric"`
	TargetPlayerID *string         `json:"targetPlayerId"`
}

// handlePlayCard also serves the must_discard submission channel: spec.md
// §6 names no dedicated discard event, so the orchestrator inspects the
// current phase itself and routes the same {cardInstanceId} payload to a
// discard when required (see SPEC_FULL.md §10).
func (d *Dispatcher) handlePlayCard(client *ws.Client, data json.RawMessage) {
	playerID, match, ok := d.authenticatedMatch(client)
	if !ok {
		client.Send("game:error", errorPayload("no active match"))
		return
	}

	var req playCardRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.Send("game:error", errorPayload("malformed game:playCard payload"))
		return
	}

	match.PlayerInput(playerID, req.CardInstanceID, engine.PlayPayload{
		SelectedMetric: req.SelectedMetric,
		TargetPlayerID: req.TargetPlayerID,
	})
}

func (d *Dispatcher) handleAdvanceTurn(client *ws.Client) {
	playerID, match, ok := d.authenticatedMatch(client)
	if !ok {
		client.Send("game:error", errorPayload("no active match"))
		return
	}
	match.AdvanceTurn(playerID)
}

func (d *Dispatcher) authenticatedPlayer(client *ws.Client) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	playerID, ok := d.playerByConn[client.ID()]
	return playerID, ok
}

func (d *Dispatcher) authenticatedMatch(client *ws.Client) (string, *orchestrator.Match, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	playerID, ok := d.playerByConn[client.ID()]
	if !ok {
		return "", nil, false
	}
	match, ok := d.matchByPlayer[playerID]
	return playerID, match, ok
}

// onMatchFound is lobby's callback (spec.md §4.5 "Try-match"): it mints a
// matchID and seed, starts the orchestrator, and registers its human
// players (bots are not registered) under it before returning, honoring spec.md §5's "no lost updates"
// ordering guarantee.
func (d *Dispatcher) onMatchFound(found lobby.MatchFound) {
	matchID := uuid.NewString()
	seed := randomSeed()

	players := [2]orchestrator.PlayerInfo{}
	for i, e := range found.Players {
		var ch orchestrator.Channel
		if e.Channel != nil {
			ch = e.Channel
		}
		players[i] = orchestrator.PlayerInfo{ID: e.PlayerID, Name: e.DisplayName, Channel: ch, IsBot: e.IsBot}
	}

	match, err := orchestrator.New(matchID, seed, players, d.cat, d.cfg.Orchestrator, time.Now().UnixMilli(), d.onMatchEnd)
	if err != nil {
		log.Printf("dispatch: starting match %s: %v", matchID, err)
		return
	}

	d.mu.Lock()
	d.matches[matchID] = match
	for _, e := range found.Players {
		if e.IsBot {
			continue
		}
		d.matchByPlayer[e.PlayerID] = match
	}
	d.mu.Unlock()
}

func (d *Dispatcher) onMatchEnd(matchID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.matches, matchID)
	for playerID, m := range d.matchByPlayer {
		if m.ID() == matchID {
			delete(d.matchByPlayer, playerID)
		}
	}
}

func errorPayload(message string) interface{} {
	return struct {
		Message string `json:"message"`
	}{Message: message}
}

func randomSeed() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
