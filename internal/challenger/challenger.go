package challenger

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halvard/knightshift/internal/obslog"
	"github.com/halvard/knightshift/internal/session"
	"github.com/halvard/knightshift/internal/store"
	"github.com/halvard/knightshift/pkg/feeddto"
)

// Lister exposes the opponents currently open to a challenge.
type Lister interface {
	OnlineBots(ctx context.Context, limit int) ([]feeddto.OnlineBot, error)
	CreateChallenge(ctx context.Context, req feeddto.ChallengeRequest) error
}

// Memory is the opponent history the picker consults.
type Memory interface {
	Conquered(ctx context.Context, opponent string) (bool, error)
}

// ActiveFn reports how many games are currently running; the challenger
// stays quiet while any are.
type ActiveFn func() int

// Challenger issues outgoing challenges when the agent sits idle. Picking
// order: an opponent we just lost to gets the rematch first; otherwise a
// random online bot, skipping ones already beaten and the previous opponent.
type Challenger struct {
	lister   Lister
	memory   Memory
	active   ActiveFn
	botName  string
	interval time.Duration

	timeLimit int64
	increment int64

	// mu guards the pick bookkeeping: NoteOutcome is called from game
	// goroutines while the ticker goroutine reads it.
	mu           sync.Mutex
	lastOpponent string
	lastLostTo   string
}

func New(lister Lister, memory Memory, active ActiveFn, botName string, interval time.Duration) *Challenger {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	return &Challenger{
		lister:    lister,
		memory:    memory,
		active:    active,
		botName:   botName,
		interval:  interval,
		timeLimit: int64(3 * time.Minute / time.Millisecond),
		increment: int64(2 * time.Second / time.Millisecond),
	}
}

// NoteOutcome feeds back how the last game ended, steering the next pick.
func (c *Challenger) NoteOutcome(opponent string, status session.Status) {
	if strings.TrimSpace(opponent) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastOpponent = opponent
	if status == session.StatusLoss {
		c.lastLostTo = opponent
	} else {
		c.lastLostTo = ""
	}
}

// Run loops until the context ends, issuing at most one challenge per tick.
func (c *Challenger) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.active() > 0 {
				continue
			}
			if err := c.challengeOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				obslog.L().Warn("challenge_failed", zap.Error(err))
			}
		}
	}
}

func (c *Challenger) challengeOnce(ctx context.Context) error {
	target, err := c.pick(ctx)
	if err != nil {
		return err
	}
	if target == "" {
		return nil
	}
	obslog.L().Info("challenge_sent", zap.String("opponent", target))
	err = c.lister.CreateChallenge(ctx, feeddto.ChallengeRequest{
		Opponent:  target,
		Rated:     true,
		TimeLimit: c.timeLimit,
		Increment: c.increment,
		Color:     "random",
	})
	if err == nil {
		c.mu.Lock()
		c.lastOpponent = target
		c.mu.Unlock()
	}
	return err
}

// pick chooses the next opponent. A rematch after a loss always wins the
// pick; it is how lost ground gets retaken.
func (c *Challenger) pick(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.lastLostTo != "" {
		target := c.lastLostTo
		c.lastLostTo = ""
		c.mu.Unlock()
		return target, nil
	}
	previous := c.lastOpponent
	c.mu.Unlock()

	bots, err := c.lister.OnlineBots(ctx, 50)
	if err != nil {
		return "", err
	}

	candidates := make([]string, 0, len(bots))
	for _, b := range bots {
		name := strings.TrimSpace(b.Username)
		if name == "" || strings.EqualFold(name, c.botName) || strings.EqualFold(name, previous) {
			continue
		}
		conquered, err := c.memory.Conquered(ctx, name)
		if err != nil {
			return "", err
		}
		if conquered {
			continue
		}
		candidates = append(candidates, name)
	}

	if len(candidates) == 0 {
		// Everyone online has been beaten; fall back to anyone but ourselves.
		for _, b := range bots {
			name := strings.TrimSpace(b.Username)
			if name != "" && !strings.EqualFold(name, c.botName) {
				candidates = append(candidates, name)
			}
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[rand.Intn(len(candidates))], nil
}

var _ Memory = (*store.Store)(nil)
