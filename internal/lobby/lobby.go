// Package lobby implements the matchmaking queue: join/cancel, pairing,
// and the human-only grace window with AI fallback (spec.md §4.5).
package lobby

import (
	"fmt"
	"sync"
	"time"

	"carclash/internal/config"
)

// Channel is the opaque per-connection handle the lobby and orchestrator
// use to push named, JSON-payload events to a client. Identity/auth and
// transport framing are external collaborators (spec.md §1); the server
// core only ever talks to a Channel.
type Channel interface {
	Send(event string, payload interface{})
}

// PolicyError is a lobby-level rejection (spec.md §7): already queued,
// already in a match. Surfaced only to the caller via matchmaking:error.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return e.Reason }

// Entry is one waiting player (spec.md §4.5 "State").
type Entry struct {
	PlayerID    string
	DisplayName string
	Channel     Channel
	JoinedAt    time.Time
	IsBot       bool
	HumanOnly   bool
}

// MatchFound is emitted when try-match pairs two entries.
type MatchFound struct {
	Players [2]Entry
}

// LobbyUpdate is the broadcast payload for lobby:update.
type LobbyUpdate struct {
	Players     []LobbyPlayer `json:"players"`
	PlayerCount int           `json:"playerCount"`
}

// LobbyPlayer is one queued player's public shape.
type LobbyPlayer struct {
	Username string `json:"username"`
	IsBot    bool   `json:"isBot"`
}

// Lobby is the single matchmaking queue. now is injected so scheduling
// decisions (e.g. in tests) do not depend on the wall clock directly.
type Lobby struct {
	mu sync.Mutex

	cfg config.Lobby
	now func() time.Time

	queue      []*Entry
	botCounter int
	aiTimer    *time.Timer

	onMatchFound func(MatchFound)
}

// New builds a Lobby. onMatchFound is invoked (outside the lock) whenever
// try-match pairs two entries; the caller is expected to register the
// resulting orchestrator before returning, per spec.md §5's "no lost
// updates" ordering guarantee.
func New(cfg config.Lobby, now func() time.Time, onMatchFound func(MatchFound)) *Lobby {
	return &Lobby{cfg: cfg, now: now, onMatchFound: onMatchFound}
}

// Join enqueues playerID. Rejects with a *PolicyError if already queued.
func (l *Lobby) Join(playerID, displayName string, channel Channel, humanOnly bool) error {
	l.mu.Lock()

	for _, e := range l.queue {
		if e.PlayerID == playerID {
			l.mu.Unlock()
			return &PolicyError{Reason: fmt.Sprintf("player %q is already queued", playerID)}
		}
	}

	l.queue = append(l.queue, &Entry{
		PlayerID:    playerID,
		DisplayName: displayName,
		Channel:     channel,
		JoinedAt:    l.now(),
		HumanOnly:   humanOnly,
	})

	update, channels := l.snapshotLocked()
	found := l.tryMatchLocked()
	l.mu.Unlock()

	l.broadcast(update, channels)
	l.dispatchMatches(found)
	return nil
}

// Cancel removes playerID from the queue if present.
func (l *Lobby) Cancel(playerID string) {
	l.mu.Lock()
	removed := false
	for i, e := range l.queue {
		if e.PlayerID == playerID {
			l.queue = append(l.queue[:i:i], l.queue[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		l.mu.Unlock()
		return
	}
	if len(l.queue) == 0 && l.aiTimer != nil {
		l.aiTimer.Stop()
		l.aiTimer = nil
	}
	update, channels := l.snapshotLocked()
	l.mu.Unlock()

	l.broadcast(update, channels)
}

// tryMatchLocked pairs entries while the queue has at least two, preferring
// the two earliest-joined humans and recursing until fewer than two remain
// (spec.md §4.5 "Try-match"). Must be called with l.mu held; returns the
// matches to dispatch once the lock is released.
func (l *Lobby) tryMatchLocked() []MatchFound {
	var found []MatchFound

	for len(l.queue) >= 2 {
		humans := make([]*Entry, 0, len(l.queue))
		bots := make([]*Entry, 0, len(l.queue))
		for _, e := range l.queue {
			if e.IsBot {
				bots = append(bots, e)
			} else {
				humans = append(humans, e)
			}
		}

		var chosen [2]*Entry
		switch {
		case len(humans) >= 2:
			chosen = [2]*Entry{humans[0], humans[1]}
		case len(humans) == 1:
			chosen = [2]*Entry{humans[0], bots[0]}
		default:
			chosen = [2]*Entry{bots[0], bots[1]}
		}

		l.queue = removeEntries(l.queue, chosen)
		found = append(found, MatchFound{Players: [2]Entry{*chosen[0], *chosen[1]}})
	}

	if len(l.queue) > 0 {
		l.scheduleAISpawnLocked()
	}

	return found
}

func removeEntries(queue []*Entry, remove [2]*Entry) []*Entry {
	out := queue[:0:0]
	for _, e := range queue {
		if e == remove[0] || e == remove[1] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// scheduleAISpawnLocked arms the single pending AI-spawn timer per
// spec.md §4.5 "AI spawn policy": queue has ≥1 human and <2 total, and not
// every waiting human is a human-only-flagged player still inside its
// grace window (a human without the flag always allows the spawn).
func (l *Lobby) scheduleAISpawnLocked() {
	if !l.cfg.AIEnabled || l.aiTimer != nil {
		return
	}
	if len(l.queue) >= 2 {
		return
	}

	humanCount := 0
	for _, e := range l.queue {
		if !e.IsBot {
			humanCount++
		}
	}
	if humanCount == 0 {
		return
	}

	now := l.now()
	allWithinGrace := true
	for _, e := range l.queue {
		if e.IsBot {
			continue
		}
		if !e.HumanOnly || now.Sub(e.JoinedAt) >= l.cfg.HumanOnlyMaxWait {
			allWithinGrace = false
			break
		}
	}
	if allWithinGrace {
		return
	}

	l.aiTimer = time.AfterFunc(l.cfg.AIDelay, l.spawnAI)
}

func (l *Lobby) spawnAI() {
	l.mu.Lock()
	l.aiTimer = nil
	l.botCounter++
	bot := &Entry{
		PlayerID:    fmt.Sprintf("bot-%d", l.botCounter),
		DisplayName: fmt.Sprintf("Bot %d", l.botCounter),
		IsBot:       true,
		JoinedAt:    l.now(),
	}
	l.queue = append(l.queue, bot)
	update, channels := l.snapshotLocked()
	found := l.tryMatchLocked()
	l.mu.Unlock()

	l.broadcast(update, channels)
	l.dispatchMatches(found)
}

// snapshotLocked must be called with l.mu held. It returns both the
// broadcastable lobby snapshot and the channels to deliver it to, captured
// from the same queue state so the two never drift relative to each other.
func (l *Lobby) snapshotLocked() (LobbyUpdate, []Channel) {
	players := make([]LobbyPlayer, len(l.queue))
	channels := make([]Channel, 0, len(l.queue))
	for i, e := range l.queue {
		players[i] = LobbyPlayer{Username: e.DisplayName, IsBot: e.IsBot}
		if e.Channel != nil {
			channels = append(channels, e.Channel)
		}
	}
	return LobbyUpdate{Players: players, PlayerCount: len(players)}, channels
}

func (l *Lobby) broadcast(update LobbyUpdate, channels []Channel) {
	for _, c := range channels {
		c.Send("lobby:update", update)
	}
}

func (l *Lobby) dispatchMatches(found []MatchFound) {
	for _, m := range found {
		if l.onMatchFound != nil {
			l.onMatchFound(m)
		}
	}
}
