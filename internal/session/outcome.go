package session

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the terminal tag of a game, relative to the agent.
type Status string

const (
	StatusOngoing Status = "ongoing"
	StatusWin     Status = "win"
	StatusLoss    Status = "loss"
	StatusDraw    Status = "draw"
	StatusAborted Status = "aborted"
)

// Reason qualifies how a terminal status came about.
type Reason string

const (
	ReasonCheckmate          Reason = "checkmate"
	ReasonResignation        Reason = "resignation"
	ReasonTimeout            Reason = "timeout"
	ReasonEngineFailure      Reason = "engine_failure"
	ReasonOpponentDisconnect Reason = "opponent_disconnect"
	ReasonDesynchronization  Reason = "desynchronization"
	ReasonAgreement          Reason = "agreement"
	ReasonRuleDraw           Reason = "rule_draw"
	ReasonShutdown           Reason = "shutdown"
)

// Outcome is set exactly once per game and is terminal.
type Outcome struct {
	Status Status
	Reason Reason
}
