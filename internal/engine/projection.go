package engine

import "carclash/internal/catalog"

// HiddenDefinitionID is the sentinel definition identifier meaning
// "hidden back" for an opponent's hand entry (spec.md §4.3).
const HiddenDefinitionID = "hidden_back"

// CardView is the client-visible shape of a card instance.
type CardView struct {
	InstanceID            string           `json:"instanceId"`
	DefinitionID           string           `json:"definitionId"`
	Kind                   catalog.Kind     `json:"kind,omitempty"`
	OriginalMetrics        *catalog.Metrics `json:"originalMetrics,omitempty"`
	CurrentMetrics         *catalog.Metrics `json:"currentMetrics,omitempty"`
	IsModifiedPermanently  bool             `json:"isModifiedPermanently,omitempty"`
}

func fullCardView(c CardInstance) CardView {
	return CardView{
		InstanceID:           c.InstanceID,
		DefinitionID:         c.DefinitionID,
		Kind:                 c.Kind,
		OriginalMetrics:      c.OriginalMetrics,
		CurrentMetrics:       c.CurrentMetrics,
		IsModifiedPermanently: c.IsModifiedPermanently,
	}
}

func hiddenCardView(c CardInstance) CardView {
	return CardView{
		InstanceID:   c.InstanceID,
		DefinitionID: HiddenDefinitionID,
	}
}

// PlayerView is the client-visible shape of a player, with the hand
// projected according to whether it belongs to the requesting player.
type PlayerView struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Hand  []CardView `json:"hand"`
	Score int        `json:"score"`
}

// BoardView is the client-visible shape of one player's board slots.
type BoardView struct {
	Car    *CardView `json:"car"`
	Action *CardView `json:"action"`
}

// ClientView is the reduced projection of State sent to a specific player
// (spec.md §4.3): the opponent's hand is hidden, the draw pile is replaced
// by its size, and the RNG seed is absent entirely. This is the unit the
// orchestrator diffs against the last-sent snapshot.
type ClientView struct {
	MatchID         string                 `json:"matchId"`
	Players         map[string]PlayerView  `json:"players"`
	PlayerOrder     [2]string              `json:"playerOrder"`
	CurrentPlayerID string                 `json:"currentPlayerId"`

	GameStatus    Status  `json:"gameStatus"`
	RoundWinnerID *string `json:"roundWinnerId"`
	WinnerID      *string `json:"winnerId"`

	SelectedMetricForRound *catalog.Metric `json:"selectedMetricForRound"`

	Board map[string]BoardView `json:"board"`

	DrawPileSize int        `json:"drawPileSize"`
	DiscardPile  []CardView `json:"discardPile"`

	LastPlayedInstanceID *string `json:"lastPlayedInstanceId"`

	TurnStartTime   int64 `json:"turnStartTime"`
	TurnTimeLimitMs int64 `json:"turnTimeLimitMs"`

	Log []string `json:"log"`

	ExtraTurnPlayerID *string `json:"extraTurnPlayerId"`

	CurrentPlayerPhase Phase `json:"currentPlayerPhase"`
}

// Project builds the client-visible view of s for viewerID. Deliberately
// takes no pointer receiver on State: it is a pure read, never mutates s.
func Project(s *State, viewerID string) ClientView {
	view := ClientView{
		MatchID:                s.MatchID,
		Players:                map[string]PlayerView{},
		PlayerOrder:            s.PlayerOrder,
		CurrentPlayerID:        s.CurrentPlayerID,
		GameStatus:             s.Status,
		RoundWinnerID:          s.RoundWinnerID,
		WinnerID:               s.WinnerID,
		SelectedMetricForRound: s.SelectedMetricForRound,
		Board:                  map[string]BoardView{},
		DrawPileSize:           len(s.DrawPile),
		LastPlayedInstanceID:   s.LastPlayedInstanceID,
		TurnStartTime:          s.TurnStartTimeMs,
		TurnTimeLimitMs:        s.TurnTimeLimitMs,
		Log:                    s.Log,
		ExtraTurnPlayerID:      s.ExtraTurnPlayerID,
		CurrentPlayerPhase:     s.Phase,
	}

	for id, p := range s.Players {
		hidden := id != viewerID
		hand := make([]CardView, len(p.Hand))
		for i, c := range p.Hand {
			if hidden {
				hand[i] = hiddenCardView(c)
			} else {
				hand[i] = fullCardView(c)
			}
		}
		view.Players[id] = PlayerView{ID: p.ID, Name: p.Name, Hand: hand, Score: p.Score}
	}

	for id, slots := range s.Board {
		var bv BoardView
		if slots.Car != nil {
			v := fullCardView(*slots.Car)
			bv.Car = &v
		}
		if slots.Action != nil {
			v := fullCardView(*slots.Action)
			bv.Action = &v
		}
		view.Board[id] = bv
	}

	for _, c := range s.DiscardPile {
		view.DiscardPile = append(view.DiscardPile, fullCardView(c))
	}

	return view
}
