// Package engine is the pure rules engine: given an immutable game state
// and a player input, it produces either a new state or a validation
// failure. It performs no I/O and reads no wall clock; callers inject
// timestamps explicitly (spec.md §4.1).
package engine

import (
	"fmt"

	"carclash/internal/catalog"
)

const (
	initialHandSize = 7
	handLimit       = 10
	actionCopies    = 4
)

// PlayPayload is the optional data accompanying a card play.
type PlayPayload struct {
	SelectedMetric *catalog.Metric
	TargetPlayerID *string
}

// Initialize builds a fresh game state: shuffles a deck built from cat,
// deals initialHandSize cards to each player alternately, and sets the
// initial phase to waiting_for_initial_play (spec.md §4.1).
func Initialize(matchID string, seed uint32, playerIDs, playerNames [2]string, turnTimeLimitMs int64, nowMs int64, cat *catalog.Catalog) (*State, error) {
	r := newRNG(seed)

	instances, nextID := buildDeck(cat)
	shuffleInstances(&r, instances)

	s := &State{
		MatchID:         matchID,
		Players:         map[string]*Player{},
		PlayerOrder:     playerIDs,
		CurrentPlayerID: playerIDs[0],
		Status:          StatusPlaying,
		Board:           map[string]*BoardSlots{},
		TurnStartTimeMs: nowMs,
		TurnTimeLimitMs: turnTimeLimitMs,
		Seed:            r.state,
		Phase:           PhaseWaitingForInitialPlay,
	}

	for i, id := range playerIDs {
		s.Players[id] = &Player{ID: id, Name: playerNames[i]}
		s.Board[id] = &BoardSlots{}
	}

	idx := 0
	for round := 0; round < initialHandSize; round++ {
		for _, id := range playerIDs {
			if idx >= len(instances) {
				break
			}
			s.Players[id].Hand = append(s.Players[id].Hand, instances[idx])
			idx++
		}
	}
	s.DrawPile = instances[idx:]
	_ = nextID

	s.appendLog("match %s initialized, seed=%d", matchID, seed)
	return s, nil
}

// buildDeck mints one instance per car definition and actionCopies
// instances per action definition, with deterministic instance IDs (never
// real random UUIDs, so the engine stays reproducible from its seed).
func buildDeck(cat *catalog.Catalog) ([]CardInstance, int) {
	var out []CardInstance
	counter := 0
	nextInstanceID := func(defID string) string {
		counter++
		return fmt.Sprintf("inst-%s-%d", defID, counter)
	}

	for _, def := range cat.Cars() {
		metrics := def.Metrics
		out = append(out, CardInstance{
			InstanceID:      nextInstanceID(def.ID),
			DefinitionID:    def.ID,
			Kind:            catalog.KindCar,
			OriginalMetrics: &metrics,
			CurrentMetrics:  copyMetrics(metrics),
		})
	}

	for _, def := range cat.Actions() {
		for i := 0; i < actionCopies; i++ {
			out = append(out, CardInstance{
				InstanceID:   nextInstanceID(def.ID),
				DefinitionID: def.ID,
				Kind:         catalog.KindAction,
			})
		}
	}

	return out, counter
}

func copyMetrics(m catalog.Metrics) *catalog.Metrics {
	cp := m
	return &cp
}

// findInHand returns the index of instanceID in hand, or -1.
func findInHand(hand []CardInstance, instanceID string) int {
	for i, c := range hand {
		if c.InstanceID == instanceID {
			return i
		}
	}
	return -1
}

func removeFromHand(hand []CardInstance, idx int) ([]CardInstance, CardInstance) {
	card := hand[idx]
	out := append(hand[:idx:idx], hand[idx+1:]...)
	return out, card
}

// PlayCard validates and applies a card play by playerID (spec.md §4.1,
// "Play validation" / "Action card resolution" / "Pending modifier
// application" / "Round-metric selection"). On validation failure the
// returned state is a clone identical to the input and err is a
// *ValidationError; s itself is never mutated.
func PlayCard(s *State, cat *catalog.Catalog, playerID, cardInstanceID string, payload PlayPayload, nowMs int64) (*State, error) {
	next := s.Clone()

	player, ok := next.Players[playerID]
	if !ok {
		return s.Clone(), fatalf("unknown player %q", playerID)
	}

	idx := findInHand(player.Hand, cardInstanceID)
	if idx < 0 {
		return s.Clone(), validationf("card %q is not in player %q's hand", cardInstanceID, playerID)
	}
	card := player.Hand[idx]

	def, ok := cat.ByID(card.DefinitionID)
	if !ok {
		return s.Clone(), fatalf("unknown card definition %q", card.DefinitionID)
	}

	switch card.Kind {
	case catalog.KindAction:
		if next.Phase != PhaseWaitingForInitialPlay {
			return s.Clone(), validationf("action card can only be played from waiting_for_initial_play, got %s", next.Phase)
		}
		return applyActionPlay(next, cat, player, idx, card, def, payload, nowMs)

	case catalog.KindCar:
		if next.Phase != PhaseWaitingForInitialPlay && next.Phase != PhaseWaitingForCarCardAfterAction {
			return s.Clone(), validationf("car card can only be played from an interactive phase, got %s", next.Phase)
		}
		return applyCarPlay(next, player, idx, card, payload)

	default:
		return s.Clone(), fatalf("card %q has unknown kind %q", cardInstanceID, card.Kind)
	}
}

func applyActionPlay(next *State, cat *catalog.Catalog, player *Player, idx int, card CardInstance, def catalog.Definition, payload PlayPayload, nowMs int64) (*State, error) {
	eff := def.Effect

	// override_metric can fail validation on the selection; check that
	// before committing the card to the board so a rejected play leaves
	// next identical to its starting clone of s.
	if eff.Type == catalog.EffectOverrideMetric {
		if payload.SelectedMetric == nil || !metricAllowed(*payload.SelectedMetric, eff.AllowedMetrics) {
			return next, validationf("override_metric play requires a valid metric selection")
		}
	}

	hand, played := removeFromHand(player.Hand, idx)
	player.Hand = hand

	next.Board[player.ID].Action = &played
	next.LastPlayedInstanceID = strPtr(played.InstanceID)

	opponentID := next.OpponentOf(player.ID)

	switch eff.Type {
	case catalog.EffectTimeMod:
		next.TurnTimeLimitMs += int64(eff.TimeModSeconds) * 1000
		next.appendLog("%s played %s: turn time limit adjusted by %ds", player.ID, def.ID, eff.TimeModSeconds)

	case catalog.EffectMetricModTemp, catalog.EffectMetricModPerm:
		targetID := player.ID
		if eff.Target == catalog.TargetOpponent {
			targetID = opponentID
		}
		if next.PendingModifiers == nil {
			next.PendingModifiers = map[string]PendingModifier{}
		}
		next.PendingModifiers[targetID] = PendingModifier{
			SourcePlayerID:         player.ID,
			SourceActionInstanceID: played.InstanceID,
			Effect:                 eff,
		}
		next.appendLog("%s played %s targeting %s's %s", player.ID, def.ID, targetID, eff.TargetMetric)

	case catalog.EffectOverrideMetric:
		next.SelectedMetricForRound = metricPtr(*payload.SelectedMetric)
		next.appendLog("%s played %s, round metric overridden to %s", player.ID, def.ID, *payload.SelectedMetric)

	case catalog.EffectDropCard:
		opponent := next.Players[opponentID]
		if opponent == nil {
			return next, fatalf("unknown opponent for drop_card effect")
		}
		if len(opponent.Hand) > 0 {
			r := newRNG(next.Seed)
			r.reseed(uint32(len(opponent.Hand)))
			dropIdx := r.intn(len(opponent.Hand))
			remaining, dropped := removeFromHand(opponent.Hand, dropIdx)
			opponent.Hand = remaining
			next.DiscardPile = append(next.DiscardPile, dropped)
			next.Seed = r.state
			next.appendLog("%s played %s, %s lost a card to the discard pile", player.ID, def.ID, opponentID)
		}

	case catalog.EffectExtraTurn:
		next.ExtraTurnPlayerID = strPtr(player.ID)
		next.appendLog("%s played %s, will act again after this round", player.ID, def.ID)

	default:
		return next, fatalf("action card %q has unhandled effect %q", card.DefinitionID, eff.Type)
	}

	next.Phase = PhaseWaitingForCarCardAfterAction
	return checkEndConditions(next, nowMs)
}

func metricAllowed(m catalog.Metric, allowed []catalog.Metric) bool {
	for _, a := range allowed {
		if a == m {
			return true
		}
	}
	return false
}

func applyCarPlay(next *State, player *Player, idx int, card CardInstance, payload PlayPayload) (*State, error) {
	// The first car played in a round must carry a metric selection
	// (spec.md §4.1, "Round-metric selection"); subsequent car plays in the
	// same round ignore any selection because SelectedMetricForRound is
	// already set and is the sole signal of "first car this round" — it is
	// cleared only at round resolution (spec.md §4.1, "Round resolution").
	isFirstCarThisRound := next.SelectedMetricForRound == nil

	if isFirstCarThisRound {
		if payload.SelectedMetric == nil {
			return next, validationf("first car play of the round requires a metric selection")
		}
		if !catalog.ValidMetric(string(*payload.SelectedMetric)) {
			return next, validationf("invalid metric selection %q", *payload.SelectedMetric)
		}
		next.SelectedMetricForRound = metricPtr(*payload.SelectedMetric)
	}

	hand, played := removeFromHand(player.Hand, idx)
	player.Hand = hand

	if mod, ok := next.PendingModifiers[player.ID]; ok {
		applyPendingModifier(&played, mod)
		delete(next.PendingModifiers, player.ID)
	}

	next.Board[player.ID].Car = &played
	next.LastPlayedInstanceID = strPtr(played.InstanceID)
	next.appendLog("%s played car %s", player.ID, played.DefinitionID)

	opponentSlots := next.Board[next.OpponentOf(player.ID)]
	if opponentSlots.Car != nil {
		next.Phase = PhaseBothCardsOnBoard
		return next, nil
	}

	next.Phase = PhaseTurnEnded
	return next, nil
}

// applyPendingModifier recomputes the designated metric from
// originalMetrics (spec.md §4.1, "Pending modifier application").
func applyPendingModifier(card *CardInstance, mod PendingModifier) {
	if card.OriginalMetrics == nil {
		return
	}
	orig := card.OriginalMetrics.Get(mod.Effect.TargetMetric)

	var newValue float64
	switch mod.Effect.ModifierKind {
	case catalog.ModifierPercentage:
		newValue = orig * (1 + mod.Effect.Value/100)
	case catalog.ModifierAbsolute:
		newValue = orig + mod.Effect.Value
	default:
		newValue = orig
	}

	if card.CurrentMetrics == nil {
		m := *card.OriginalMetrics
		card.CurrentMetrics = &m
	}
	*card.CurrentMetrics = card.CurrentMetrics.With(mod.Effect.TargetMetric, newValue)

	if mod.Effect.Type == catalog.EffectMetricModPerm {
		card.IsModifiedPermanently = true
	}
}

// Discard removes cardInstanceID from playerID's hand while in
// must_discard phase (spec.md §4.1).
func Discard(s *State, playerID, cardInstanceID string, nowMs int64) (*State, error) {
	if s.Phase != PhaseMustDiscard {
		return s.Clone(), validationf("discard is only legal in must_discard phase, got %s", s.Phase)
	}
	next := s.Clone()
	player, ok := next.Players[playerID]
	if !ok {
		return s.Clone(), fatalf("unknown player %q", playerID)
	}
	if player.ID != next.CurrentPlayerID {
		return s.Clone(), validationf("only the current player may discard")
	}

	idx := findInHand(player.Hand, cardInstanceID)
	if idx < 0 {
		return s.Clone(), validationf("card %q is not in player %q's hand", cardInstanceID, playerID)
	}
	hand, discarded := removeFromHand(player.Hand, idx)
	player.Hand = hand
	next.DiscardPile = append(next.DiscardPile, discarded)
	next.appendLog("%s discarded %s to return to the hand limit", playerID, discarded.DefinitionID)

	if len(player.Hand) <= handLimit {
		next.Phase = PhaseRoundResolved
	}

	return checkEndConditions(next, nowMs)
}

// ResolveRound applies round resolution once both car slots are filled
// (spec.md §4.1, "Round resolution"). Only legal in both_cards_on_board.
func ResolveRound(s *State, nowMs int64) (*State, error) {
	if s.Phase != PhaseBothCardsOnBoard {
		return s.Clone(), validationf("resolve is only legal in both_cards_on_board, got %s", s.Phase)
	}
	next := s.Clone()

	p1ID, p2ID := next.PlayerOrder[0], next.PlayerOrder[1]
	slots1, slots2 := next.Board[p1ID], next.Board[p2ID]
	if slots1.Car == nil || slots2.Car == nil {
		return s.Clone(), fatalf("resolve invoked without both car slots filled")
	}

	metric := catalog.MetricSpeed
	if next.SelectedMetricForRound != nil {
		metric = *next.SelectedMetricForRound
	}

	v1 := metricValue(slots1.Car, metric)
	v2 := metricValue(slots2.Car, metric)

	var winnerID string
	switch {
	case v1 == v2:
		winnerID = ""
	case catalog.LowerWins(metric):
		if v1 < v2 {
			winnerID = p1ID
		} else {
			winnerID = p2ID
		}
	default:
		if v1 > v2 {
			winnerID = p1ID
		} else {
			winnerID = p2ID
		}
	}

	car1, car2 := *slots1.Car, *slots2.Car

	if winnerID == "" {
		next.Players[p1ID].Hand = append(next.Players[p1ID].Hand, car1)
		next.Players[p2ID].Hand = append(next.Players[p2ID].Hand, car2)
		next.RoundWinnerID = nil
		next.appendLog("round tied on %s (%v vs %v)", metric, v1, v2)
	} else {
		winner := next.Players[winnerID]
		winner.Hand = append(winner.Hand, car1, car2)
		winner.Score++
		next.RoundWinnerID = strPtr(winnerID)
		next.appendLog("%s won the round on %s (%v vs %v)", winnerID, metric, v1, v2)
	}

	slots1.Car, slots1.Action = nil, nil
	slots2.Car, slots2.Action = nil, nil
	next.SelectedMetricForRound = nil

	if winnerID != "" && len(next.Players[winnerID].Hand) > handLimit {
		next.Phase = PhaseMustDiscard
		next.CurrentPlayerID = winnerID
		return checkEndConditions(next, nowMs)
	}

	next.Phase = PhaseRoundResolved
	return checkEndConditions(next, nowMs)
}

func metricValue(card *CardInstance, metric catalog.Metric) float64 {
	if card.CurrentMetrics != nil {
		return card.CurrentMetrics.Get(metric)
	}
	if card.OriginalMetrics != nil {
		return card.OriginalMetrics.Get(metric)
	}
	return 0
}

// AdvanceTurn rotates the current player after a round resolves (spec.md
// §4.1, "Turn advancement"). Idempotent: calling it twice in a row once the
// phase has left round_resolved is a no-op validation error, which is how
// the orchestrator keeps manual and scheduled advance requests from double
// -applying (spec.md §9, Open Question 1).
func AdvanceTurn(s *State, nowMs int64) (*State, error) {
	if s.Phase != PhaseRoundResolved {
		return s.Clone(), validationf("advance is only legal in round_resolved, got %s", s.Phase)
	}
	next := s.Clone()

	switch {
	case next.ExtraTurnPlayerID != nil:
		next.CurrentPlayerID = *next.ExtraTurnPlayerID
		next.ExtraTurnPlayerID = nil
	case next.RoundWinnerID != nil:
		next.CurrentPlayerID = *next.RoundWinnerID
	default:
		next.CurrentPlayerID = next.OpponentOf(next.CurrentPlayerID)
	}

	next.RoundWinnerID = nil
	next.SelectedMetricForRound = nil
	next.Phase = PhaseWaitingForInitialPlay
	next.TurnStartTimeMs = nowMs

	return checkEndConditions(next, nowMs)
}

// RotateAfterTurnEnded moves from turn_ended to the opponent's
// waiting_for_initial_play (spec.md §4.1 phase table: "turn_ended -> the
// orchestrator rotates current player").
func RotateAfterTurnEnded(s *State, nowMs int64) (*State, error) {
	if s.Phase != PhaseTurnEnded {
		return s.Clone(), validationf("rotate is only legal in turn_ended, got %s", s.Phase)
	}
	next := s.Clone()
	next.CurrentPlayerID = next.OpponentOf(next.CurrentPlayerID)
	next.Phase = PhaseWaitingForInitialPlay
	next.TurnStartTimeMs = nowMs
	return checkEndConditions(next, nowMs)
}

// Timeout declares the opponent of playerID the winner because playerID's
// turn timer expired (spec.md §4.2, §7).
func Timeout(s *State, playerID string, nowMs int64) (*State, error) {
	return forfeit(s, playerID, "turn timer expired")
}

// Forfeit declares the opponent of playerID the winner because of a
// disconnect or bot failure (spec.md §4.2, §7).
func Forfeit(s *State, playerID, reason string) (*State, error) {
	return forfeit(s, playerID, reason)
}

func forfeit(s *State, playerID, reason string) (*State, error) {
	if s.Status != StatusPlaying {
		return s.Clone(), validationf("match has already ended")
	}
	next := s.Clone()
	winnerID := next.OpponentOf(playerID)
	next.Status = StatusWin
	next.WinnerID = strPtr(winnerID)
	next.appendLog("%s forfeits (%s), %s wins", playerID, reason, winnerID)
	return next, nil
}

// checkEndConditions evaluates spec.md §4.1's game-end conditions after
// every engine step. It must run after round resolution has already moved
// won cards into the winner's hand (spec.md §9, Open Question 3) so a
// player who played their last car is never incorrectly declared empty
// -handed before absorbing the round's winnings.
func checkEndConditions(s *State, nowMs int64) (*State, error) {
	if s.Status != StatusPlaying {
		return s, nil
	}

	p1ID, p2ID := s.PlayerOrder[0], s.PlayerOrder[1]
	p1, p2 := s.Players[p1ID], s.Players[p2ID]

	if len(p1.Hand) == 0 && len(p2.Hand) == 0 && len(s.DrawPile) == 0 {
		s.Status = StatusTie
		s.appendLog("both hands and the draw pile are empty: tie")
		return s, nil
	}

	phaseNeedsCar := s.Phase == PhaseWaitingForInitialPlay || s.Phase == PhaseWaitingForCarCardAfterAction
	if phaseNeedsCar {
		current := s.Players[s.CurrentPlayerID]
		if current != nil && !hasCarCard(current.Hand) {
			winnerID := s.OpponentOf(s.CurrentPlayerID)
			s.Status = StatusWin
			s.WinnerID = strPtr(winnerID)
			s.appendLog("%s has no car cards left, %s wins", s.CurrentPlayerID, winnerID)
		}
	}

	return s, nil
}

func hasCarCard(hand []CardInstance) bool {
	for _, c := range hand {
		if c.Kind == catalog.KindCar {
			return true
		}
	}
	return false
}
