package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/halvard/knightshift/internal/obslog"
	"github.com/halvard/knightshift/internal/session"
	"github.com/halvard/knightshift/internal/uci"
)

// ErrSearchTimeout means the engine did not answer within the allotted budget
// plus grace. It is escalated as an engine-health failure, never absorbed:
// silently retrying with a smaller budget would desynchronize the clock model.
var ErrSearchTimeout = errors.New("engine search timed out")

const (
	defaultMinThink = 50 * time.Millisecond
	defaultReserve  = 300 * time.Millisecond
	defaultGrace    = 2 * time.Second
	defaultDivisor  = 40
	untimedBudget   = 2500 * time.Millisecond
)

// Searcher is the slice of the engine process the scheduler needs.
type Searcher interface {
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResult, error)
}

// Policy tunes the per-move time heuristic.
type Policy struct {
	// MinThink is the floor under the computed budget.
	MinThink time.Duration
	// Reserve is withheld from remaining time to absorb communication latency
	// before a flag fall. A budget never exceeds remaining minus reserve.
	Reserve time.Duration
	// Grace extends the wall-clock wait beyond the budget before the search is
	// declared timed out.
	Grace time.Duration
	// Divisor is the fraction-of-remaining-time denominator.
	Divisor int
}

func (p Policy) withDefaults() Policy {
	if p.MinThink <= 0 {
		p.MinThink = defaultMinThink
	}
	if p.Reserve < 0 {
		p.Reserve = defaultReserve
	}
	if p.Grace <= 0 {
		p.Grace = defaultGrace
	}
	if p.Divisor <= 0 {
		p.Divisor = defaultDivisor
	}
	return p
}

// Scheduler decides per-move time budgets and issues search requests,
// enforcing the budget with a timeout.
type Scheduler struct {
	policy Policy
}

func New(policy Policy) *Scheduler {
	return &Scheduler{policy: policy.withDefaults()}
}

// Budget computes the time allotment for the next move: a fraction of
// remaining time plus half the increment, floored at MinThink and capped so
// that remaining minus Reserve is never exceeded. Untimed games get a fixed
// allotment.
func (s *Scheduler) Budget(clock *session.Clock, side session.Color, moveNumber int) time.Duration {
	if clock == nil || !clock.Timed() {
		return untimedBudget
	}
	remaining := clock.Remaining(side)
	ceiling := remaining - s.policy.Reserve
	if ceiling <= 0 {
		// Nearly flagged: no time can be spent thinking at all.
		return 0
	}

	budget := remaining/time.Duration(s.policy.Divisor) + clock.Increment(side)/2
	if budget < s.policy.MinThink {
		budget = s.policy.MinThink
	}
	if budget > ceiling {
		budget = ceiling
	}
	return budget
}

// Issue submits one SearchRequest for the given position and waits for the
// result, racing a budget+grace timer. A missing answer is ErrSearchTimeout.
func (s *Scheduler) Issue(ctx context.Context, engine Searcher, fen string, moves []string, budget time.Duration) (uci.SearchResult, error) {
	searchCtx, cancel := context.WithTimeout(ctx, budget+s.policy.Grace)
	defer cancel()

	// A zero budget still needs a nonzero movetime on the wire.
	moveTime := budget
	if moveTime < 10*time.Millisecond {
		moveTime = 10 * time.Millisecond
	}
	req := uci.SearchRequest{
		FEN:   fen,
		Moves: moves,
		Go:    uci.CmdGo{MoveTime: moveTime},
	}

	result, err := engine.Search(searchCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			obslog.L().Error("search_timeout",
				zap.Duration("budget", budget),
				zap.Duration("grace", s.policy.Grace),
				zap.Int("moves", len(moves)),
			)
			return uci.SearchResult{}, fmt.Errorf("%w: budget %s", ErrSearchTimeout, budget)
		}
		return uci.SearchResult{}, err
	}
	return result, nil
}
