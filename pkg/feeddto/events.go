package feeddto

import (
	"encoding/json"
	"strings"
)

// EventType tags one envelope from the matchmaking feed.
type EventType string

const (
	EventChallenge EventType = "challenge"
	EventGameStart EventType = "game_start"
	EventGameState EventType = "game_state"
	EventDrawOffer EventType = "draw_offer"
	EventGameEnd   EventType = "game_end"
)

// Envelope is the raw wire frame; Payload decodes per Type.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Challenge announces an incoming challenge the agent may accept or decline.
type Challenge struct {
	ID         string `json:"id"`
	Challenger string `json:"challenger"`
	Rated      bool   `json:"rated"`
	TimeLimit  int64  `json:"time_limit_ms"`
	Increment  int64  `json:"increment_ms"`
	Variant    string `json:"variant,omitempty"`
}

// GameStart opens one game session.
type GameStart struct {
	GameID     string `json:"game_id"`
	Color      string `json:"color"` // side assigned to the agent
	Opponent   string `json:"opponent"`
	InitialFEN string `json:"initial_fen,omitempty"`
	TimeLimit  int64  `json:"time_limit_ms"`
	Increment  int64  `json:"increment_ms"`
}

// GameState carries the authoritative move list and clocks. Moves are
// space-separated UCI, oldest first.
type GameState struct {
	GameID    string `json:"game_id"`
	Moves     string `json:"moves"`
	WhiteTime int64  `json:"wtime_ms"`
	BlackTime int64  `json:"btime_ms"`
	Status    string `json:"status"`
	Winner    string `json:"winner,omitempty"`
}

// MoveList splits the wire move string into individual UCI moves.
func (g GameState) MoveList() []string {
	return strings.Fields(g.Moves)
}

// Terminal reports whether the feed considers the game over.
func (g GameState) Terminal() bool {
	switch g.Status {
	case StatusStarted, StatusCreated, "":
		return false
	default:
		return true
	}
}

// Feed status vocabulary.
const (
	StatusCreated   = "created"
	StatusStarted   = "started"
	StatusMate      = "mate"
	StatusResign    = "resign"
	StatusOutOfTime = "outoftime"
	StatusDraw      = "draw"
	StatusAborted   = "aborted"
)

// DrawOffer signals the opponent proposed a draw in the given game.
type DrawOffer struct {
	GameID string `json:"game_id"`
	From   string `json:"from"`
}

// GameEnd closes a game from the feed side (disconnects, aborts).
type GameEnd struct {
	GameID string `json:"game_id"`
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
}

// GameEvent is one decoded feed event routed to a game driver.
type GameEvent struct {
	Type      EventType
	Challenge *Challenge
	Start     *GameStart
	State     *GameState
	Draw      *DrawOffer
	End       *GameEnd
}

// GameID returns the game the event belongs to, empty for challenges.
func (e GameEvent) GameID() string {
	switch e.Type {
	case EventGameStart:
		if e.Start != nil {
			return e.Start.GameID
		}
	case EventGameState:
		if e.State != nil {
			return e.State.GameID
		}
	case EventDrawOffer:
		if e.Draw != nil {
			return e.Draw.GameID
		}
	case EventGameEnd:
		if e.End != nil {
			return e.End.GameID
		}
	}
	return ""
}
