// Package orchestrator mediates between external events (client inputs,
// timers, bot ticks) and the pure rules engine for a single match: it
// keeps per-client last-seen snapshots, publishes diffs, and owns the
// match's lifecycle (spec.md §4.2).
package orchestrator

import (
	"sync"
	"time"

	"github.com/wI2L/jsondiff"

	"carclash/internal/bot"
	"carclash/internal/catalog"
	"carclash/internal/config"
	"carclash/internal/engine"
)

const (
	resolveDelay     = 1 * time.Second
	autoAdvanceDelay = 1500 * time.Millisecond
	botStepDelay     = 1500 * time.Millisecond
)

// Channel is the opaque per-connection handle used to push named,
// JSON-payload events to a client (spec.md §6).
type Channel interface {
	Send(event string, payload interface{})
}

// PlayerInfo describes one of the two match participants at start time.
type PlayerInfo struct {
	ID      string
	Name    string
	Channel Channel // nil for bots
	IsBot   bool
}

type participant struct {
	info         PlayerInfo
	lastSnapshot *engine.ClientView
	hasSnapshot  bool
}

// Match owns the mutable state of one in-progress game: the authoritative
// engine state, per-player snapshots, and its scheduled timers. All
// mutation goes through methods that take Match's lock, so engine
// invocations for this match are strictly serialized (spec.md §5).
type Match struct {
	id  string
	cat *catalog.Catalog
	cfg config.Orchestrator

	mu           sync.Mutex
	state        *engine.State
	participants map[string]*participant

	turnTimer *time.Timer
	stepTimer *time.Timer

	closed bool
	onEnd  func(matchID string)
}

// New initializes a match: builds the engine state, pushes the initial
// snapshot and game:start event to every human participant, and arms the
// turn timer (spec.md §4.2 "Start match").
func New(matchID string, seed uint32, players [2]PlayerInfo, cat *catalog.Catalog, cfg config.Orchestrator, nowMs int64, onEnd func(matchID string)) (*Match, error) {
	var ids, names [2]string
	for i, p := range players {
		ids[i] = p.ID
		names[i] = p.Name
	}

	s, err := engine.Initialize(matchID, seed, ids, names, cfg.TurnTimeLimit.Milliseconds(), nowMs, cat)
	if err != nil {
		return nil, err
	}

	m := &Match{
		id:           matchID,
		cat:          cat,
		cfg:          cfg,
		state:        s,
		participants: make(map[string]*participant, 2),
		onEnd:        onEnd,
	}
	for _, p := range players {
		m.participants[p.ID] = &participant{info: p}
	}

	startPayload := struct {
		GameID  string       `json:"gameId"`
		Players []startEntry `json:"players"`
	}{GameID: matchID}
	for _, p := range players {
		startPayload.Players = append(startPayload.Players, startEntry{UserID: p.ID, Username: p.Name, IsBot: p.IsBot})
	}

	for _, p := range players {
		if p.Channel == nil {
			continue
		}
		p.Channel.Send("game:start", startPayload)
		view := engine.Project(m.state, p.ID)
		m.participants[p.ID].lastSnapshot = &view
		m.participants[p.ID].hasSnapshot = true
		p.Channel.Send("game:stateUpdate", view)
	}

	m.rescheduleLocked()
	return m, nil
}

type startEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsBot    bool   `json:"isBot"`
}

// PlayerInput submits a card play by playerID (spec.md §4.2 "Player
// input"). When the player's phase is must_discard, the same
// {cardInstanceId} payload is routed to the engine's discard operation
// instead of a card play — spec.md §6 names no separate discard event, so
// game:playCard doubles as the submission channel for both (see
// SPEC_FULL.md §10).
func (m *Match) PlayerInput(playerID, cardInstanceID string, payload engine.PlayPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if m.state.Status == engine.StatusPlaying && m.state.Phase == engine.PhaseMustDiscard {
		next, err := engine.Discard(m.state, playerID, cardInstanceID, m.nowMs())
		m.applyStepLocked(next, err, playerID)
		return
	}

	if rejectReason, ok := m.rejectInputLocked(playerID); ok {
		m.sendErrorLocked(playerID, rejectReason)
		return
	}

	next, err := engine.PlayCard(m.state, m.cat, playerID, cardInstanceID, payload, m.nowMs())
	m.applyStepLocked(next, err, playerID)
}

// AdvanceTurn honors a manual game:advanceTurn request (spec.md §4.2
// "Advance turn").
func (m *Match) AdvanceTurn(requestingPlayerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	next, err := engine.AdvanceTurn(m.state, m.nowMs())
	m.applyStepLocked(next, err, requestingPlayerID)
}

// Disconnect handles a player's channel dropping (spec.md §4.2 "Player
// disconnect").
func (m *Match) Disconnect(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if p, ok := m.participants[playerID]; ok {
		p.info.Channel = nil
	}
	if m.state.Status != engine.StatusPlaying {
		return
	}
	next, err := engine.Forfeit(m.state, playerID, "disconnected")
	m.applyStepLocked(next, err, playerID)
}

// Reconnect rebinds playerID's channel and sends a full snapshot (spec.md
// §4.2 "Player reconnect").
func (m *Match) Reconnect(playerID string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	p, ok := m.participants[playerID]
	if !ok {
		return
	}
	p.info.Channel = channel
	view := engine.Project(m.state, playerID)
	p.lastSnapshot = &view
	p.hasSnapshot = true
	channel.Send("game:stateUpdate", view)

	m.cancelTurnTimerLocked()
	m.rescheduleLocked()
}

// Destroy cancels all timers and detaches every channel.
func (m *Match) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancelTurnTimerLocked()
	m.cancelStepTimerLocked()
	for _, p := range m.participants {
		p.info.Channel = nil
	}
}

// ID returns the match's identifier, stable for its lifetime.
func (m *Match) ID() string { return m.id }

func (m *Match) nowMs() int64 {
	return time.Now().UnixMilli()
}

// rejectInputLocked implements the orchestrator-level input gate (spec.md
// §4.2): wrong current player, match already ended, or comparison in
// progress are rejected before ever reaching the engine.
func (m *Match) rejectInputLocked(playerID string) (string, bool) {
	if m.state.Status != engine.StatusPlaying {
		return "match has already ended", true
	}
	if playerID != m.state.CurrentPlayerID {
		return "it is not your turn", true
	}
	if m.state.Phase == engine.PhaseBothCardsOnBoard {
		return "round comparison is in progress", true
	}
	return "", false
}

// applyStepLocked processes the outcome of an engine call: validation
// errors are surfaced to the offending player only (state unchanged);
// fatal errors end the match; success publishes diffs and reschedules
// timers (spec.md §7, §4.2).
func (m *Match) applyStepLocked(next *engine.State, err error, offendingPlayerID string) {
	if err != nil {
		if engine.IsFatal(err) {
			m.endMatchLocked(m.state.OpponentOf(offendingPlayerID), engine.StatusWin)
			return
		}
		m.sendErrorLocked(offendingPlayerID, err.Error())
		return
	}

	m.state = next
	m.publishLocked()

	// turn_ended carries no player-facing decision point: the engine
	// itself models it only as "whose turn ends here," and the orchestrator
	// rotates immediately rather than waiting on a scheduled callback
	// (unlike both_cards_on_board/round_resolved, which do wait).
	for m.state.Status == engine.StatusPlaying && m.state.Phase == engine.PhaseTurnEnded {
		rotated, rerr := engine.RotateAfterTurnEnded(m.state, m.nowMs())
		if rerr != nil {
			m.endMatchLocked(m.state.OpponentOf(m.state.CurrentPlayerID), engine.StatusWin)
			return
		}
		m.state = rotated
		m.publishLocked()
	}

	if m.state.Status != engine.StatusPlaying {
		m.cancelTurnTimerLocked()
		m.cancelStepTimerLocked()
		m.broadcastGameEndLocked()
		m.finishLocked()
		return
	}

	m.rescheduleLocked()
}

// publishLocked diffs the new projection against each human participant's
// last-sent snapshot and emits a patch if non-empty (spec.md §4.2
// "Per-state publication").
func (m *Match) publishLocked() {
	for playerID, p := range m.participants {
		if p.info.Channel == nil {
			continue
		}
		view := engine.Project(m.state, playerID)
		if !p.hasSnapshot {
			p.lastSnapshot = &view
			p.hasSnapshot = true
			p.info.Channel.Send("game:stateUpdate", view)
			continue
		}
		patch, err := jsondiff.Compare(*p.lastSnapshot, view)
		if err != nil {
			continue
		}
		if len(patch) > 0 {
			p.info.Channel.Send("game:patch", patch)
		}
		p.lastSnapshot = &view
	}
}

func (m *Match) sendErrorLocked(playerID, message string) {
	p, ok := m.participants[playerID]
	if !ok || p.info.Channel == nil {
		return
	}
	p.info.Channel.Send("game:error", struct {
		Message string `json:"message"`
	}{Message: message})
}

func (m *Match) broadcastGameEndLocked() {
	payload := struct {
		WinnerID   *string `json:"winnerId"`
		GameStatus string  `json:"gameStatus"`
	}{WinnerID: m.state.WinnerID, GameStatus: string(m.state.Status)}
	for _, p := range m.participants {
		if p.info.Channel != nil {
			p.info.Channel.Send("game:end", payload)
		}
	}
}

func (m *Match) endMatchLocked(winnerID string, status engine.Status) {
	s := m.state.Clone()
	s.Status = status
	w := winnerID
	s.WinnerID = &w
	m.state = s
	m.cancelTurnTimerLocked()
	m.cancelStepTimerLocked()
	m.publishLocked()
	m.broadcastGameEndLocked()
	m.finishLocked()
}

func (m *Match) finishLocked() {
	if m.closed {
		return
	}
	m.closed = true
	if m.onEnd != nil {
		onEnd := m.onEnd
		id := m.id
		go onEnd(id)
	}
}

// rescheduleLocked re-arms whichever timer the current phase calls for
// (spec.md §4.2 "Turn timer" / "Scheduled transitions" / "Bot stepping").
// It always cancels both timers first so no timer armed for an earlier
// phase survives. Interactive phases arm the turn timer and, when the
// current player is a bot, also a bot step; both_cards_on_board and
// round_resolved arm only their scheduled resolve or auto-advance.
func (m *Match) rescheduleLocked() {
	m.cancelTurnTimerLocked()
	m.cancelStepTimerLocked()

	switch m.state.Phase {
	case engine.PhaseWaitingForInitialPlay, engine.PhaseWaitingForCarCardAfterAction:
		m.armTurnTimerLocked()
		m.maybeScheduleBotStepLocked()
	case engine.PhaseBothCardsOnBoard:
		m.scheduleResolveLocked()
	case engine.PhaseRoundResolved:
		m.scheduleAutoAdvanceLocked()
	case engine.PhaseMustDiscard:
		m.armTurnTimerLocked()
		m.maybeScheduleBotStepLocked()
	case engine.PhaseTurnEnded:
		// applyStepLocked always rotates turn_ended away before calling
		// rescheduleLocked; reaching this case would be a bug upstream.
	}
}

func (m *Match) armTurnTimerLocked() {
	playerID := m.state.CurrentPlayerID
	limit := time.Duration(m.state.TurnTimeLimitMs) * time.Millisecond
	m.turnTimer = time.AfterFunc(limit, func() { m.onTurnTimeout(playerID) })
}

func (m *Match) cancelTurnTimerLocked() {
	if m.turnTimer != nil {
		m.turnTimer.Stop()
		m.turnTimer = nil
	}
}

func (m *Match) cancelStepTimerLocked() {
	if m.stepTimer != nil {
		m.stepTimer.Stop()
		m.stepTimer = nil
	}
}

func (m *Match) scheduleResolveLocked() {
	expectedPhase := m.state.Phase
	m.stepTimer = time.AfterFunc(resolveDelay, func() { m.onResolve(expectedPhase) })
}

func (m *Match) scheduleAutoAdvanceLocked() {
	expectedPhase := m.state.Phase
	m.stepTimer = time.AfterFunc(autoAdvanceDelay, func() { m.onAutoAdvance(expectedPhase) })
}

func (m *Match) maybeScheduleBotStepLocked() {
	p, ok := m.participants[m.state.CurrentPlayerID]
	if !ok || !p.info.IsBot {
		return
	}
	playerID := m.state.CurrentPlayerID
	expectedPhase := m.state.Phase
	m.stepTimer = time.AfterFunc(botStepDelay, func() { m.onBotStep(playerID, expectedPhase) })
}

// onTurnTimeout fires when a player's turn timer expires (spec.md §4.2
// "Turn timer", §7 "Timer expiry").
func (m *Match) onTurnTimeout(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state.Status != engine.StatusPlaying || m.state.CurrentPlayerID != playerID {
		return
	}
	next, err := engine.Timeout(m.state, playerID, m.nowMs())
	m.applyStepLocked(next, err, playerID)
}

// onResolve fires ~1s after entering both_cards_on_board; it re-checks the
// phase before acting (spec.md §5 "Cancellation and timeouts").
func (m *Match) onResolve(expectedPhase engine.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state.Phase != expectedPhase {
		return
	}
	next, err := engine.ResolveRound(m.state, m.nowMs())
	m.applyStepLocked(next, err, "")
}

// onAutoAdvance fires ~1.5s after entering round_resolved.
func (m *Match) onAutoAdvance(expectedPhase engine.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state.Phase != expectedPhase {
		return
	}
	next, err := engine.AdvanceTurn(m.state, m.nowMs())
	m.applyStepLocked(next, err, "")
}

// onBotStep fires ~1.5s after a bot becomes the current player in an
// interactive phase (spec.md §4.2 "Bot stepping").
func (m *Match) onBotStep(playerID string, expectedPhase engine.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state.Status != engine.StatusPlaying {
		return
	}
	if m.state.CurrentPlayerID != playerID || m.state.Phase != expectedPhase {
		return
	}

	if m.state.Phase == engine.PhaseMustDiscard {
		m.botDiscardLocked(playerID)
		return
	}

	decision := bot.Choose(m.state, playerID)
	if decision.NoMove {
		m.endMatchLocked(m.state.OpponentOf(playerID), engine.StatusWin)
		return
	}

	next, err := engine.PlayCard(m.state, m.cat, playerID, decision.CardInstanceID, decision.Payload, m.nowMs())
	if err != nil {
		m.endMatchLocked(m.state.OpponentOf(playerID), engine.StatusWin)
		return
	}
	m.applyStepLocked(next, nil, playerID)
}

// botDiscardLocked discards the bot's first card when it must shed hand
// size back down to the limit; bots have no preference among discards.
func (m *Match) botDiscardLocked(playerID string) {
	player, ok := m.state.Players[playerID]
	if !ok || len(player.Hand) == 0 {
		m.endMatchLocked(m.state.OpponentOf(playerID), engine.StatusWin)
		return
	}
	next, err := engine.Discard(m.state, playerID, player.Hand[0].InstanceID, m.nowMs())
	if err != nil {
		m.endMatchLocked(m.state.OpponentOf(playerID), engine.StatusWin)
		return
	}
	m.applyStepLocked(next, nil, playerID)
}
