package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

// PoolConfig sizes a pool of warm engine processes. Every game owns exactly
// one acquired process for its whole lifetime.
type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
}

var errPoolAtCapacity = errors.New("engine pool at capacity")

// Pool hands out engine processes, reusing healthy idle ones and replacing
// crashed ones. Capacity bounds the number of live subprocesses.
type Pool struct {
	binaryPath string
	opt        Options
	capacity   int

	mu    sync.Mutex
	total int
	idle  chan *Process
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("%w: binary check: %v", ErrEngineStartup, err)
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultPoolCapacity()
	}

	return &Pool{
		binaryPath: cfg.BinaryPath,
		opt:        cfg.Options,
		capacity:   capacity,
		idle:       make(chan *Process, capacity),
	}, nil
}

// Acquire returns a ready engine process, preferring an idle one. Idle
// processes are revalidated with a ready exchange; dead ones are discarded and
// replaced.
func (p *Pool) Acquire(ctx context.Context) (*Process, error) {
	for {
		select {
		case proc := <-p.idle:
			if proc == nil {
				continue
			}
			if proc.Exited() {
				p.discard(proc)
				continue
			}
			if err := proc.EnsureReady(ctx); err != nil {
				p.discard(proc)
				continue
			}
			return proc, nil
		default:
		}

		proc, err := p.create(ctx)
		if err == nil {
			return proc, nil
		}
		if !errors.Is(err, errPoolAtCapacity) {
			return nil, err
		}

		select {
		case proc := <-p.idle:
			if proc == nil {
				continue
			}
			if proc.Exited() {
				p.discard(proc)
				continue
			}
			if err := proc.EnsureReady(ctx); err != nil {
				p.discard(proc)
				continue
			}
			return proc, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a process to the pool. A non-nil err marks the process as
// unhealthy and it is closed instead of reused.
func (p *Pool) Release(proc *Process, err error) {
	if proc == nil {
		return
	}
	if err != nil || proc.Exited() {
		p.discard(proc)
		return
	}
	select {
	case p.idle <- proc:
	default:
		p.discard(proc)
	}
}

func (p *Pool) Close() error {
	var errs []error
	for {
		select {
		case proc := <-p.idle:
			if proc == nil {
				continue
			}
			if err := proc.Stop(context.Background()); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			return nil
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Process, error) {
	p.mu.Lock()
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errPoolAtCapacity
	}
	p.total++
	p.mu.Unlock()

	proc, err := NewProcess(ctx, p.binaryPath, p.opt)
	if err != nil {
		p.decrement()
		return nil, err
	}
	return proc, nil
}

func (p *Pool) discard(proc *Process) {
	if proc != nil {
		_ = proc.Stop(context.Background())
	}
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

func defaultPoolCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
