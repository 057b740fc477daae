package driver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halvard/knightshift/internal/obslog"
	"github.com/halvard/knightshift/internal/scheduler"
	"github.com/halvard/knightshift/internal/session"
	"github.com/halvard/knightshift/internal/uci"
	"github.com/halvard/knightshift/pkg/feeddto"
)

// drawAcceptThreshold: a draw offer is taken when our evaluation is below
// this many centipawns, and never when we have a forced mate.
const drawAcceptThreshold = 100

const eventBufferSize = 32

const defaultDrainTimeout = 5 * time.Second

// errStaleSearch means teardown gave up waiting for an outstanding search;
// the engine process still has an unread best move in its stream and must
// not be reused.
var errStaleSearch = errors.New("engine search not drained before teardown")

// Actor is the outbound half of the game: moves, resignations and draw
// responses submitted back to the matchmaking service.
type Actor interface {
	SendMove(ctx context.Context, gameID, move string) error
	Resign(ctx context.Context, gameID string) error
	RespondDraw(ctx context.Context, gameID string, accept bool) error
}

// Engine is the slice of the engine process one game needs.
type Engine interface {
	scheduler.Searcher
	NewGame(ctx context.Context) error
	EnsureReady(ctx context.Context) error
	Halt() error
	Exited() bool
}

type searchDone struct {
	result uci.SearchResult
	err    error
}

// Driver runs one game to completion: it multiplexes feed events and engine
// search results through a single sequential loop, so session transitions
// never race. At most one search is in flight at any time.
type Driver struct {
	sess     *session.Session
	engine   Engine
	sched    *scheduler.Scheduler
	actor    Actor
	opponent string

	events       chan *feeddto.GameEvent
	searching    bool
	lastScore    *uci.Score
	startedAt    time.Time
	drainTimeout time.Duration // wait for a halted search's best move
}

func New(sess *session.Session, engine Engine, sched *scheduler.Scheduler, actor Actor, opponent string) *Driver {
	return &Driver{
		sess:         sess,
		engine:       engine,
		sched:        sched,
		actor:        actor,
		opponent:     opponent,
		events:       make(chan *feeddto.GameEvent, eventBufferSize),
		drainTimeout: defaultDrainTimeout,
	}
}

func (d *Driver) Session() *session.Session { return d.sess }

func (d *Driver) Opponent() string { return d.opponent }

// Deliver hands one feed event to the game loop. Blocks if the loop is
// backed up, which keeps event order intact.
func (d *Driver) Deliver(ev *feeddto.GameEvent) {
	d.events <- ev
}

// Run drives the game until an outcome is set. The returned outcome is
// always valid; the error reports an engine-health failure if one ended
// the game.
func (d *Driver) Run(ctx context.Context) (session.Outcome, error) {
	d.startedAt = time.Now()
	log := obslog.L().With(zap.String("game_id", d.sess.ID()), zap.String("opponent", d.opponent))

	if err := d.configure(ctx); err != nil {
		log.Error("engine_configure_failed", zap.Error(err))
		d.sess.Terminate(session.Outcome{Status: session.StatusAborted, Reason: session.ReasonEngineFailure})
		out, _ := d.sess.Outcome()
		return out, err
	}
	log.Info("game_start", zap.String("color", string(d.sess.Color())))

	resultCh := make(chan searchDone, 1)
	var runErr error

loop:
	for {
		if _, done := d.sess.Outcome(); done {
			break loop
		}
		if !d.searching {
			if err := d.maybeSearch(ctx, resultCh); err != nil {
				runErr = err
				break loop
			}
		}

		select {
		case <-ctx.Done():
			// Agent shutdown, not an engine fault.
			d.sess.Terminate(session.Outcome{Status: session.StatusAborted, Reason: session.ReasonShutdown})
			runErr = ctx.Err()
			break loop

		case res := <-resultCh:
			d.searching = false
			if err := d.onSearchDone(ctx, res, log); err != nil {
				runErr = err
				break loop
			}

		case ev := <-d.events:
			d.onEvent(ctx, ev, log)
		}
	}

	if err := d.teardown(resultCh); err != nil && runErr == nil {
		runErr = err
	}

	out, _ := d.sess.Outcome()
	log.Info("game_end",
		zap.String("status", string(out.Status)),
		zap.String("reason", string(out.Reason)),
		zap.Int("moves", d.sess.MoveCount()),
		zap.Duration("duration", time.Since(d.startedAt)),
	)
	return out, runErr
}

func (d *Driver) configure(ctx context.Context) error {
	if err := d.sess.Begin(); err != nil {
		return err
	}
	if err := d.engine.NewGame(ctx); err != nil {
		return err
	}
	if err := d.engine.EnsureReady(ctx); err != nil {
		return err
	}
	return d.sess.ConfirmReady()
}

// maybeSearch launches a search when it is our move. Flag fall is checked
// first: with no time left the game is already lost and the engine is not
// consulted.
func (d *Driver) maybeSearch(ctx context.Context, resultCh chan<- searchDone) error {
	if d.sess.State() != session.StateReady || !d.sess.OurTurn() {
		return nil
	}
	clock := d.sess.Clock()
	if clock.FlagFallen(d.sess.Color()) {
		d.sess.Terminate(session.Outcome{Status: session.StatusLoss, Reason: session.ReasonTimeout})
		return nil
	}

	budget := d.sched.Budget(clock, d.sess.Color(), d.sess.MoveCount())
	if err := d.sess.BeginSearch(); err != nil {
		return err
	}
	d.searching = true

	fen := d.sess.StartFEN()
	moves := d.sess.Moves()
	go func() {
		result, err := d.sched.Issue(ctx, d.engine, fen, moves, budget)
		resultCh <- searchDone{result: result, err: err}
	}()
	return nil
}

func (d *Driver) onSearchDone(ctx context.Context, res searchDone, log *zap.Logger) error {
	if res.err != nil {
		// No move is emitted and the game ends. A search cut short by agent
		// shutdown is not the engine's fault.
		reason := session.ReasonEngineFailure
		if errors.Is(res.err, context.Canceled) {
			reason = session.ReasonShutdown
			log.Info("search_cancelled")
		} else {
			log.Error("search_failed", zap.Error(res.err))
		}
		d.sess.FailSearch(reason)
		return res.err
	}

	elapsed := res.result.Elapsed
	d.sess.Clock().Deduct(d.sess.Color(), elapsed)
	d.lastScore = res.result.Score

	move := strings.TrimSpace(res.result.BestMove)
	if move == "" || move == "(none)" {
		// No legal move while the local position says the game is live: the
		// engine's position has forked from ours.
		log.Error("engine_returned_no_move")
		d.sess.FailSearch(session.ReasonDesynchronization)
		return nil
	}

	if err := d.sess.ApplySearchResult(move); err != nil {
		if errors.Is(err, session.ErrDesynchronized) {
			log.Error("position_desync", zap.String("move", move))
			return nil
		}
		return err
	}

	if err := d.actor.SendMove(ctx, d.sess.ID(), move); err != nil {
		// The move cannot be confirmed; continuing would fork the position.
		log.Error("move_submit_failed", zap.String("move", move), zap.Error(err))
		d.sess.Terminate(session.Outcome{Status: session.StatusAborted, Reason: session.ReasonDesynchronization})
		return nil
	}

	fields := []zap.Field{
		zap.String("move", move),
		zap.Duration("elapsed", elapsed),
		zap.Int("depth", res.result.Depth),
	}
	if res.result.Score != nil {
		fields = append(fields, zap.String("score", res.result.Score.String()))
	}
	log.Info("move_played", fields...)
	return nil
}

func (d *Driver) onEvent(ctx context.Context, ev *feeddto.GameEvent, log *zap.Logger) {
	switch ev.Type {
	case feeddto.EventGameState:
		d.onGameState(ev.State, log)
	case feeddto.EventDrawOffer:
		d.onDrawOffer(ctx, ev.Draw, log)
	case feeddto.EventGameEnd:
		d.sess.Terminate(d.outcomeFromStatus(ev.End.Status, ev.End.Winner))
	}
}

// onGameState folds an authoritative state frame into the session: clocks
// first, then any moves beyond what is already applied, then the feed's own
// verdict on whether the game is over.
func (d *Driver) onGameState(st *feeddto.GameState, log *zap.Logger) {
	if st == nil {
		return
	}
	d.sess.Clock().Sync(
		time.Duration(st.WhiteTime)*time.Millisecond,
		time.Duration(st.BlackTime)*time.Millisecond,
	)

	moves := st.MoveList()
	for i := d.sess.MoveCount(); i < len(moves); i++ {
		if err := d.sess.ApplyOpponentMove(moves[i]); err != nil {
			if errors.Is(err, session.ErrTerminal) {
				return
			}
			log.Error("feed_move_rejected", zap.String("move", moves[i]), zap.Error(err))
			return
		}
	}

	if st.Terminal() {
		d.sess.Terminate(d.outcomeFromStatus(st.Status, st.Winner))
		return
	}

	// The feed's clocks are authoritative for flag falls.
	if d.sess.Clock().FlagFallen(d.sess.Color()) && d.sess.OurTurn() {
		d.sess.Terminate(session.Outcome{Status: session.StatusLoss, Reason: session.ReasonTimeout})
	}
}

// onDrawOffer applies the draw policy: take the draw when the last
// evaluation says we are not better, never when we have a forced mate.
func (d *Driver) onDrawOffer(ctx context.Context, offer *feeddto.DrawOffer, log *zap.Logger) {
	if offer == nil {
		return
	}
	accept := false
	if d.lastScore != nil && !d.lastScore.MateFor() {
		if d.lastScore.Kind == uci.ScoreCentipawns && d.lastScore.Value < drawAcceptThreshold {
			accept = true
		}
		if d.lastScore.Kind == uci.ScoreMate && d.lastScore.Value < 0 {
			accept = true // we are getting mated
		}
	}
	log.Info("draw_offer", zap.Bool("accept", accept), zap.String("from", offer.From))
	if err := d.actor.RespondDraw(ctx, d.sess.ID(), accept); err != nil {
		log.Warn("draw_response_failed", zap.Error(err))
		return
	}
	if accept {
		d.sess.Terminate(session.Outcome{Status: session.StatusDraw, Reason: session.ReasonAgreement})
	}
}

func (d *Driver) outcomeFromStatus(status, winner string) session.Outcome {
	won := strings.EqualFold(winner, string(d.sess.Color()))
	result := session.StatusLoss
	if won {
		result = session.StatusWin
	}
	switch status {
	case feeddto.StatusMate:
		return session.Outcome{Status: result, Reason: session.ReasonCheckmate}
	case feeddto.StatusResign:
		return session.Outcome{Status: result, Reason: session.ReasonResignation}
	case feeddto.StatusOutOfTime:
		return session.Outcome{Status: result, Reason: session.ReasonTimeout}
	case feeddto.StatusDraw:
		return session.Outcome{Status: session.StatusDraw, Reason: session.ReasonAgreement}
	case feeddto.StatusAborted:
		return session.Outcome{Status: session.StatusAborted, Reason: session.ReasonOpponentDisconnect}
	default:
		return session.Outcome{Status: session.StatusAborted, Reason: session.ReasonOpponentDisconnect}
	}
}

// teardown cancels an outstanding search and drains its answer, so the
// engine process is handed back with no stale best move in its stream. A
// drain that does not complete reports errStaleSearch, which marks the
// process unhealthy when it is released.
func (d *Driver) teardown(resultCh <-chan searchDone) error {
	if !d.searching {
		return nil
	}
	d.searching = false
	_ = d.engine.Halt()
	select {
	case <-resultCh:
		return nil
	case <-time.After(d.drainTimeout):
		return errStaleSearch
	}
}
