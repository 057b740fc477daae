package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
)

var (
	// ErrDesynchronized means an externally reported move is illegal against
	// the local position. Continuing would produce an incoherent state, so the
	// game must be terminated.
	ErrDesynchronized = errors.New("external move desynchronized from local position")
	// ErrBadTransition guards the state machine against out-of-order driving.
	ErrBadTransition = errors.New("invalid session state transition")
	// ErrTerminal rejects any mutation after the outcome has been set.
	ErrTerminal = errors.New("session already terminal")
)

// State is the lifecycle phase of one game session.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateReady
	StateSearching
	StateMoveApplied
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateSearching:
		return "searching"
	case StateMoveApplied:
		return "move_applied"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Session tracks one game's position history, clock and engine readiness.
// Position is an ordered move sequence from a known start, mutated only by
// appending one validated move at a time. Only one state transition is in
// flight at a time; opponent moves arriving while Searching are queued and
// applied after the pending search result resolves.
type Session struct {
	mu sync.Mutex

	id       string
	color    Color
	clock    *Clock
	startFEN string // empty for the standard start

	game     *nchess.Game
	movesUCI []string
	movesSAN []string

	state      State
	queued     []string
	outcome    Outcome
	outcomeSet bool
}

// New builds a session for one game. startFEN may be empty or "startpos" for
// the standard arrangement, or a variant start position.
func New(id string, color Color, startFEN string, clock *Clock) (*Session, error) {
	game := nchess.NewGame()
	fen := strings.TrimSpace(startFEN)
	if fen == "startpos" {
		fen = ""
	}
	if fen != "" {
		opt, err := nchess.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse start position: %w", err)
		}
		game = nchess.NewGame(opt)
	}
	if clock == nil {
		clock = NewClock(0, 0)
	}
	return &Session{
		id:       id,
		color:    color,
		clock:    clock,
		startFEN: fen,
		game:     game,
		state:    StateIdle,
	}, nil
}

// Begin moves Idle to Configuring; the caller sends engine configuration.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: begin from %s", ErrBadTransition, s.state)
	}
	s.state = StateConfiguring
	return nil
}

// ConfirmReady moves Configuring to Ready once the engine acknowledged.
func (s *Session) ConfirmReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfiguring {
		return fmt.Errorf("%w: confirm ready from %s", ErrBadTransition, s.state)
	}
	s.state = StateReady
	return nil
}

// BeginSearch moves Ready to Searching. It fails while another search is in
// flight, which keeps at most one SearchRequest outstanding.
func (s *Session) BeginSearch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminal {
		return ErrTerminal
	}
	if s.state != StateReady {
		return fmt.Errorf("%w: begin search from %s", ErrBadTransition, s.state)
	}
	s.state = StateSearching
	return nil
}

// ApplySearchResult appends the engine's move, then drains any opponent moves
// queued during the search. The session ends in Ready, or Terminal when the
// game is decided by the rules.
func (s *Session) ApplySearchResult(moveUCI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSearching {
		return fmt.Errorf("%w: apply result from %s", ErrBadTransition, s.state)
	}
	s.state = StateMoveApplied
	if err := s.push(moveUCI); err != nil {
		s.terminate(Outcome{Status: StatusAborted, Reason: ReasonEngineFailure})
		return err
	}
	if s.checkRules() {
		return nil
	}
	// The feed echoes our own move back in its authoritative list; a frame
	// that raced the search result carries it at the head of the queue.
	if len(s.queued) > 0 && s.queued[0] == s.movesUCI[len(s.movesUCI)-1] {
		s.queued = s.queued[1:]
	}
	for len(s.queued) > 0 {
		mv := s.queued[0]
		s.queued = s.queued[1:]
		if err := s.push(mv); err != nil {
			s.terminate(Outcome{Status: StatusAborted, Reason: ReasonDesynchronization})
			return ErrDesynchronized
		}
		if s.checkRules() {
			return nil
		}
	}
	s.state = StateReady
	return nil
}

// FailSearch leaves Searching on an engine-health failure. The session is
// never left stuck in Searching.
func (s *Session) FailSearch(reason Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSearching {
		s.terminate(Outcome{Status: StatusAborted, Reason: reason})
	}
}

// ApplyOpponentMove validates and appends an external move. While Searching
// the move is queued to preserve position consistency. An illegal move is a
// protocol violation from the feed and returns ErrDesynchronized.
func (s *Session) ApplyOpponentMove(moveUCI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateTerminal:
		return ErrTerminal
	case StateSearching:
		s.queued = append(s.queued, strings.ToLower(strings.TrimSpace(moveUCI)))
		return nil
	case StateReady, StateMoveApplied:
		if err := s.push(moveUCI); err != nil {
			s.terminate(Outcome{Status: StatusAborted, Reason: ReasonDesynchronization})
			return ErrDesynchronized
		}
		s.checkRules()
		if s.state != StateTerminal {
			s.state = StateReady
		}
		return nil
	default:
		return fmt.Errorf("%w: opponent move in %s", ErrBadTransition, s.state)
	}
}

// Terminate sets the game outcome. The first call wins; later calls report
// false and change nothing.
func (s *Session) Terminate(o Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomeSet {
		return false
	}
	s.terminate(o)
	return true
}

// terminate must be called with the lock held.
func (s *Session) terminate(o Outcome) {
	if s.outcomeSet {
		return
	}
	s.outcome = o
	s.outcomeSet = true
	s.state = StateTerminal
	s.queued = nil
}

// push validates one UCI move against the current position and appends it.
func (s *Session) push(moveUCI string) error {
	mv := strings.ToLower(strings.TrimSpace(moveUCI))
	if mv == "" {
		return fmt.Errorf("empty move")
	}
	pos := s.game.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, mv)
	if err != nil {
		return fmt.Errorf("decode %q: %w", mv, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	if err := s.game.Move(decoded, nil); err != nil {
		return fmt.Errorf("apply %q: %w", mv, err)
	}
	s.movesUCI = append(s.movesUCI, mv)
	s.movesSAN = append(s.movesSAN, san)
	return nil
}

// checkRules terminates the session when the rules decide the game. Returns
// true when the session became terminal.
func (s *Session) checkRules() bool {
	var winner Color
	switch s.game.Outcome() {
	case nchess.WhiteWon:
		winner = White
	case nchess.BlackWon:
		winner = Black
	case nchess.Draw:
		reason := ReasonRuleDraw
		if s.game.Method() == nchess.DrawOffer {
			reason = ReasonAgreement
		}
		s.terminate(Outcome{Status: StatusDraw, Reason: reason})
		return true
	default:
		return false
	}
	status := StatusLoss
	if winner == s.color {
		status = StatusWin
	}
	s.terminate(Outcome{Status: status, Reason: ReasonCheckmate})
	return true
}

func (s *Session) ID() string { return s.id }

func (s *Session) Color() Color { return s.color }

func (s *Session) Clock() *Clock { return s.clock }

// StartFEN is the game's start position, empty for the standard arrangement.
func (s *Session) StartFEN() string { return s.startFEN }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the terminal outcome and whether it has been set.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.outcomeSet
}

// Moves returns a copy of the applied UCI move sequence.
func (s *Session) Moves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.movesUCI...)
}

// MovesSAN returns a copy of the applied moves in algebraic notation.
func (s *Session) MovesSAN() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.movesSAN...)
}

func (s *Session) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movesUCI)
}

// SideToMove derives the side to move from the current position.
func (s *Session) SideToMove() Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// OurTurn reports whether the agent owns the next move.
func (s *Session) OurTurn() bool {
	return s.SideToMove() == s.color
}

// FEN renders the current position.
func (s *Session) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.FEN()
}
