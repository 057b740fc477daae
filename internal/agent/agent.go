package agent

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halvard/knightshift/internal/config"
	"github.com/halvard/knightshift/internal/driver"
	"github.com/halvard/knightshift/internal/feed"
	"github.com/halvard/knightshift/internal/obslog"
	"github.com/halvard/knightshift/internal/scheduler"
	"github.com/halvard/knightshift/internal/session"
	"github.com/halvard/knightshift/internal/store"
	"github.com/halvard/knightshift/internal/uci"
	"github.com/halvard/knightshift/pkg/feeddto"
)

// Agent routes feed events to per-game drivers. Each running game owns one
// engine process from the pool and one driver goroutine; everything else is
// demultiplexing and bookkeeping.
type Agent struct {
	cfg    *config.AppConfig
	client *feed.Client
	pool   *uci.Pool
	sched  *scheduler.Scheduler
	memory *store.Store
	repo   *store.Repository // optional

	mu    sync.Mutex
	games map[string]*runningGame

	outcomeCb func(opponent string, status session.Status)

	wg sync.WaitGroup
}

// runningGame buffers events that arrive between game start and the driver
// being ready, so no early frame is lost during engine acquisition.
type runningGame struct {
	mu       sync.Mutex
	driver   *driver.Driver
	pending  []*feeddto.GameEvent
	opponent string
}

func (g *runningGame) deliver(ev *feeddto.GameEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.driver == nil {
		g.pending = append(g.pending, ev)
		return
	}
	g.driver.Deliver(ev)
}

func (g *runningGame) attach(d *driver.Driver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ev := range g.pending {
		d.Deliver(ev)
	}
	g.pending = nil
	g.driver = d
}

func New(cfg *config.AppConfig, client *feed.Client, pool *uci.Pool, memory *store.Store, repo *store.Repository) *Agent {
	policy := scheduler.Policy{
		MinThink: time.Duration(cfg.MinThinkMillis) * time.Millisecond,
		Reserve:  time.Duration(cfg.ReserveMillis) * time.Millisecond,
		Grace:    time.Duration(cfg.GraceMillis) * time.Millisecond,
		Divisor:  cfg.BudgetDivisor,
	}
	return &Agent{
		cfg:    cfg,
		client: client,
		pool:   pool,
		sched:  scheduler.New(policy),
		memory: memory,
		repo:   repo,
		games:  make(map[string]*runningGame),
	}
}

// OnOutcome registers a callback invoked after each finished game, after
// memory has been updated. The challenger uses it to steer its next pick.
func (a *Agent) OnOutcome(cb func(opponent string, status session.Status)) {
	a.outcomeCb = cb
}

// ActiveGames reports how many games are currently running.
func (a *Agent) ActiveGames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.games)
}

// HandleEvent is the stream callback: challenges get decided inline, game
// starts spawn a driver, everything else is routed to its game.
func (a *Agent) HandleEvent(ctx context.Context) feed.EventCallback {
	return func(ev *feeddto.GameEvent) {
		switch ev.Type {
		case feeddto.EventChallenge:
			a.onChallenge(ctx, ev.Challenge)
		case feeddto.EventGameStart:
			a.onGameStart(ctx, ev.Start)
		default:
			a.route(ev)
		}
	}
}

func (a *Agent) onChallenge(ctx context.Context, ch *feeddto.Challenge) {
	if ch == nil {
		return
	}
	accept := a.ActiveGames() < a.cfg.MaxConcurrentGames
	obslog.L().Info("challenge_received",
		zap.String("challenger", ch.Challenger),
		zap.Bool("rated", ch.Rated),
		zap.Bool("accept", accept),
	)
	if err := a.client.DecideChallenge(ctx, ch.ID, accept); err != nil {
		obslog.L().Warn("challenge_decision_failed", zap.String("challenge_id", ch.ID), zap.Error(err))
	}
}

func (a *Agent) onGameStart(ctx context.Context, start *feeddto.GameStart) {
	if start == nil {
		return
	}
	a.mu.Lock()
	if _, dup := a.games[start.GameID]; dup {
		a.mu.Unlock()
		return
	}
	if len(a.games) >= a.cfg.MaxConcurrentGames {
		a.mu.Unlock()
		obslog.L().Warn("game_start_over_capacity", zap.String("game_id", start.GameID))
		return
	}
	// Reserve the slot before the engine is acquired so capacity holds under
	// a burst of starts.
	a.games[start.GameID] = &runningGame{opponent: start.Opponent}
	a.mu.Unlock()

	a.wg.Add(1)
	go a.runGame(ctx, start)
}

func (a *Agent) runGame(ctx context.Context, start *feeddto.GameStart) {
	defer a.wg.Done()
	defer a.unregister(start.GameID)

	log := obslog.L().With(zap.String("game_id", start.GameID))

	proc, err := a.pool.Acquire(ctx)
	if err != nil {
		log.Error("engine_acquire_failed", zap.Error(err))
		return
	}

	color := session.White
	if strings.EqualFold(start.Color, string(session.Black)) {
		color = session.Black
	}
	clock := session.NewClock(
		time.Duration(start.TimeLimit)*time.Millisecond,
		time.Duration(start.Increment)*time.Millisecond,
	)
	sess, err := session.New(start.GameID, color, start.InitialFEN, clock)
	if err != nil {
		log.Error("session_create_failed", zap.Error(err))
		a.pool.Release(proc, nil)
		return
	}

	d := driver.New(sess, proc, a.sched, a.client, start.Opponent)
	a.mu.Lock()
	slot := a.games[start.GameID]
	a.mu.Unlock()
	if slot != nil {
		slot.attach(d)
	}

	startedAt := time.Now()
	outcome, runErr := d.Run(ctx)
	a.pool.Release(proc, runErr)

	a.persist(ctx, sess, start, outcome, startedAt)
}

func (a *Agent) persist(ctx context.Context, sess *session.Session, start *feeddto.GameStart, outcome session.Outcome, startedAt time.Time) {
	rec := &store.GameRecord{
		GameID:      sess.ID(),
		Opponent:    start.Opponent,
		Color:       sess.Color(),
		Status:      outcome.Status,
		Reason:      outcome.Reason,
		MovesUCI:    sess.Moves(),
		MovesSAN:    sess.MovesSAN(),
		TimeControl: timeControlLabel(start.TimeLimit, start.Increment),
		StartedAt:   startedAt,
		EndedAt:     time.Now(),
	}

	// Persistence survives shutdown of the game's own context.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if a.memory != nil {
		if err := a.memory.SaveRecord(saveCtx, rec); err != nil {
			obslog.L().Warn("record_save_failed", zap.String("game_id", rec.GameID), zap.Error(err))
		}
		if err := a.memory.RecordOutcome(saveCtx, start.Opponent, outcome.Status); err != nil {
			obslog.L().Warn("memory_update_failed", zap.String("opponent", start.Opponent), zap.Error(err))
		}
	}
	if a.repo != nil {
		if err := a.repo.SaveGame(saveCtx, rec); err != nil {
			obslog.L().Warn("archive_save_failed", zap.String("game_id", rec.GameID), zap.Error(err))
		}
	}
	if a.outcomeCb != nil {
		a.outcomeCb(start.Opponent, outcome.Status)
	}
}

func (a *Agent) route(ev *feeddto.GameEvent) {
	id := ev.GameID()
	if id == "" {
		return
	}
	a.mu.Lock()
	g := a.games[id]
	a.mu.Unlock()
	if g == nil {
		obslog.L().Debug("event_for_unknown_game", zap.String("game_id", id), zap.String("type", string(ev.Type)))
		return
	}
	g.deliver(ev)
}

func (a *Agent) unregister(gameID string) {
	a.mu.Lock()
	delete(a.games, gameID)
	a.mu.Unlock()
}

// Wait blocks until all running games have finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// timeControlLabel renders "180+2" style labels for the archive.
func timeControlLabel(limitMS, incMS int64) string {
	if limitMS <= 0 {
		return ""
	}
	return strconv.FormatInt(limitMS/1000, 10) + "+" + strconv.FormatInt(incMS/1000, 10)
}
