package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"carclash/internal/catalog"
	"carclash/internal/config"
	"carclash/internal/engine"
)

type recordedEvent struct {
	name    string
	payload interface{}
}

type fakeChannel struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (c *fakeChannel) Send(event string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, recordedEvent{name: event, payload: payload})
}

func (c *fakeChannel) last(event string) (recordedEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].name == event {
			return c.events[i], true
		}
	}
	return recordedEvent{}, false
}

func (c *fakeChannel) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.name == event {
			n++
		}
	}
	return n
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load(catalog.DefaultSource)
	require.NoError(t, err)
	return cat
}

func firstCar(hand []engine.CardInstance) (engine.CardInstance, bool) {
	for _, c := range hand {
		if c.Kind == catalog.KindCar {
			return c, true
		}
	}
	return engine.CardInstance{}, false
}

func newTestMatch(t *testing.T, seed uint32) (*Match, *fakeChannel, *fakeChannel) {
	t.Helper()
	cat := testCatalog(t)
	ch1, ch2 := &fakeChannel{}, &fakeChannel{}
	var ended []string
	var mu sync.Mutex
	m, err := New("match-1", seed, [2]PlayerInfo{
		{ID: "p1", Name: "A", Channel: ch1},
		{ID: "p2", Name: "B", Channel: ch2},
	}, cat, config.Orchestrator{TurnTimeLimit: 30 * time.Second}, 0, func(id string) {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, id)
	})
	require.NoError(t, err)
	return m, ch1, ch2
}

func TestNewSendsStartAndInitialSnapshot(t *testing.T) {
	_, ch1, ch2 := newTestMatch(t, 42)
	require.Equal(t, 1, ch1.count("game:start"))
	require.Equal(t, 1, ch1.count("game:stateUpdate"))
	require.Equal(t, 1, ch2.count("game:start"))
	require.Equal(t, 1, ch2.count("game:stateUpdate"))
}

func TestPlayerInputRejectedForWrongPlayer(t *testing.T) {
	m, _, ch2 := newTestMatch(t, 42)
	m.mu.Lock()
	hand := append([]engine.CardInstance{}, m.state.Players["p2"].Hand...)
	m.mu.Unlock()
	require.NotEmpty(t, hand)

	m.PlayerInput("p2", hand[0].InstanceID, engine.PlayPayload{})
	_, ok := ch2.last("game:error")
	require.True(t, ok)
}

func TestPlayerInputHappyPathPublishesPatch(t *testing.T) {
	m, ch1, _ := newTestMatch(t, 42)
	m.mu.Lock()
	car, ok := firstCar(m.state.Players["p1"].Hand)
	m.mu.Unlock()
	require.True(t, ok)

	hp := catalog.MetricHP
	m.PlayerInput("p1", car.InstanceID, engine.PlayPayload{SelectedMetric: &hp})

	require.Equal(t, 0, ch1.count("game:error"))
	require.GreaterOrEqual(t, ch1.count("game:patch"), 1)
}

func TestDisconnectEndsMatchWithOpponentWinning(t *testing.T) {
	m, _, ch2 := newTestMatch(t, 42)
	m.Disconnect("p1")

	ev, ok := ch2.last("game:end")
	require.True(t, ok)
	payload := ev.payload.(struct {
		WinnerID   *string `json:"winnerId"`
		GameStatus string  `json:"gameStatus"`
	})
	require.Equal(t, "p2", *payload.WinnerID)
	require.Equal(t, "win", payload.GameStatus)
}

func TestDisconnectAfterMatchEndedIsANoop(t *testing.T) {
	m, _, ch2 := newTestMatch(t, 42)
	m.Disconnect("p1")
	countBefore := ch2.count("game:end")

	m.Disconnect("p2")
	require.Equal(t, countBefore, ch2.count("game:end"))
}

func TestReconnectSendsFullSnapshot(t *testing.T) {
	m, ch1, _ := newTestMatch(t, 42)
	newCh := &fakeChannel{}
	m.Reconnect("p1", newCh)

	require.Equal(t, 1, newCh.count("game:stateUpdate"))
	require.Equal(t, 1, ch1.count("game:stateUpdate"), "the old channel should not receive a second snapshot")
}
