// Package bot implements the deterministic, minimally-capable player
// strategy used both as single-player filler and to keep scenario tests
// reproducible (spec.md §4.4). It never mutates engine state; Choose only
// decides what move to submit, and the orchestrator feeds that move
// through the same engine path as a human play.
package bot

import (
	"carclash/internal/catalog"
	"carclash/internal/engine"
)

// Decision is what the bot wants to do this step.
type Decision struct {
	NoMove         bool
	CardInstanceID string
	Payload        engine.PlayPayload
}

// Choose picks the bot's move for playerID given the current state. The
// caller is responsible for confirming playerID is actually the bot whose
// turn it is; Choose assumes that has already been checked.
func Choose(s *engine.State, playerID string) Decision {
	player, ok := s.Players[playerID]
	if !ok {
		return Decision{NoMove: true}
	}

	car, found := firstCar(player.Hand)
	if !found {
		return Decision{NoMove: true}
	}

	payload := engine.PlayPayload{}
	if s.SelectedMetricForRound == nil {
		m := pickMetric(s.Seed)
		payload.SelectedMetric = &m
	}

	return Decision{CardInstanceID: car.InstanceID, Payload: payload}
}

func firstCar(hand []engine.CardInstance) (engine.CardInstance, bool) {
	for _, c := range hand {
		if c.Kind == catalog.KindCar {
			return c, true
		}
	}
	return engine.CardInstance{}, false
}

// pickMetric derives a uniform choice among the five valid metric names
// from the match seed, deliberately not a separate source of randomness
// (spec.md §4.4) and without advancing the engine's own RNG stream — this
// is a read of the seed, not a consumption of it.
func pickMetric(seed uint32) catalog.Metric {
	x := seed
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return catalog.AllMetrics[int(x%uint32(len(catalog.AllMetrics)))]
}
