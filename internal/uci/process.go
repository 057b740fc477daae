package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halvard/knightshift/internal/obslog"
)

var (
	// ErrEngineStartup covers a missing binary, an immediate exit, or a
	// handshake that does not complete within the startup timeout.
	ErrEngineStartup = errors.New("engine startup failed")
	// ErrEngineCrash means the process died while a session depended on it.
	ErrEngineCrash = errors.New("engine process crashed")
)

const (
	handshakeTimeout     = 5 * time.Second
	readyTimeout         = 4 * time.Second
	stopGracePeriod      = 2 * time.Second
	newGameRetryAttempts = 3
	newGameRetryDelay    = 150 * time.Millisecond
	lineBufferSize       = 64
)

// Options configures a spawned engine process.
type Options struct {
	Threads            int
	HashMB             int
	MoveOverheadMillis int
	// Extra holds raw setoption name/value pairs from the options file.
	Extra map[string]string
}

// Identity is what the engine declared during the handshake.
type Identity struct {
	Name    string
	Author  string
	Options []EventOption
}

// SearchRequest is one engine query. It is consumed exactly once.
type SearchRequest struct {
	FEN   string
	Moves []string
	Go    CmdGo
}

// SearchResult is the engine's answer to a SearchRequest. Immutable once
// produced.
type SearchResult struct {
	BestMove string
	Ponder   string
	Score    *Score
	PV       []string
	Depth    int
	Elapsed  time.Duration
}

type lineOrErr struct {
	line string
	err  error
}

// Process owns one external engine subprocess and its line streams. All writes
// are serialized; at most one search is outstanding at any time.
type Process struct {
	stdin io.WriteCloser
	lines chan lineOrErr

	done    chan struct{} // closed when the subprocess has terminated
	waitErr error         // valid after done is closed
	kill    func()

	mu     sync.Mutex // serializes stdin writes
	search sync.Mutex // one outstanding SearchRequest

	identity Identity

	stopOnce sync.Once
	stopErr  error
}

// NewProcess spawns the engine binary and performs the protocol handshake:
// identification, option configuration and ready confirmation. The binary
// being present is a precondition; its absence is a startup failure.
func NewProcess(ctx context.Context, binaryPath string, opt Options) (*Process, error) {
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("%w: binary check: %v", ErrEngineStartup, err)
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create stdin pipe: %v", ErrEngineStartup, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: create stdout pipe: %v", ErrEngineStartup, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("%w: start: %v", ErrEngineStartup, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	p := newProcessFromPipes(stdin, stdoutPipe, waitCh, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})

	if err := p.initialize(ctx, opt); err != nil {
		_ = p.Stop(context.Background())
		return nil, err
	}
	return p, nil
}

// newProcessFromPipes wires a Process over arbitrary streams. Tests use it to
// drive the handle against a scripted in-memory engine.
func newProcessFromPipes(stdin io.WriteCloser, stdout io.Reader, waitCh <-chan error, kill func()) *Process {
	p := &Process{
		stdin: stdin,
		lines: make(chan lineOrErr, lineBufferSize),
		done:  make(chan struct{}),
		kill:  kill,
	}
	go func() {
		p.waitErr = <-waitCh
		close(p.done)
	}()
	go p.readLoop(bufio.NewReader(stdout))
	return p
}

// readLoop is the single reader of the engine's output stream. Lines are
// delivered in arrival order; the channel is closed when the stream ends.
func (p *Process) readLoop(r *bufio.Reader) {
	defer close(p.lines)
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			p.lines <- lineOrErr{line: trimmed}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.lines <- lineOrErr{err: err}
			}
			return
		}
	}
}

func (p *Process) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := p.Send(CmdUCI{}); err != nil {
		return fmt.Errorf("%w: send uci: %v", ErrEngineStartup, err)
	}
	if err := p.collectIdentity(initCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}

	if err := p.applyOptions(opt); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineStartup, err)
	}

	if err := p.Send(CmdIsReady{}); err != nil {
		return fmt.Errorf("%w: send isready: %v", ErrEngineStartup, err)
	}
	if err := p.awaitReady(initCtx); err != nil {
		return fmt.Errorf("%w: wait readyok: %v", ErrEngineStartup, err)
	}

	obslog.L().Info("engine_start",
		zap.String("name", p.identity.Name),
		zap.String("author", p.identity.Author),
		zap.Int("declared_options", len(p.identity.Options)),
	)
	return nil
}

func (p *Process) collectIdentity(ctx context.Context) error {
	for {
		ev, err := p.ReadEvent(ctx)
		if err != nil {
			return fmt.Errorf("wait uciok: %w", err)
		}
		switch e := ev.(type) {
		case EventID:
			if e.Field == "name" {
				p.identity.Name = e.Value
			} else {
				p.identity.Author = e.Value
			}
		case EventOption:
			p.identity.Options = append(p.identity.Options, e)
		case EventUCIOk:
			return nil
		}
	}
}

func (p *Process) applyOptions(opt Options) error {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []CmdSetOption{
		{Name: "Threads", Value: strconv.Itoa(threads)},
	}
	if opt.HashMB > 0 {
		cmds = append(cmds, CmdSetOption{Name: "Hash", Value: strconv.Itoa(opt.HashMB)})
	}
	if opt.MoveOverheadMillis > 0 {
		cmds = append(cmds, CmdSetOption{Name: "Move Overhead", Value: strconv.Itoa(opt.MoveOverheadMillis)})
	}
	for name, value := range opt.Extra {
		cmds = append(cmds, CmdSetOption{Name: name, Value: value})
	}
	for _, cmd := range cmds {
		if err := p.Send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

// Identity returns what the engine declared about itself at startup.
func (p *Process) Identity() Identity { return p.identity }

// Send encodes and writes one protocol line. Writes are FIFO.
func (p *Process) Send(cmd Command) error {
	line, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = io.WriteString(p.stdin, line+"\n")
	return err
}

// ReadEvent blocks until one complete protocol line is available or the
// process terminates, in which case it fails with ErrEngineCrash.
func (p *Process) ReadEvent(ctx context.Context) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res, ok := <-p.lines:
			if !ok {
				return nil, fmt.Errorf("%w: output stream closed", ErrEngineCrash)
			}
			if res.err != nil {
				return nil, fmt.Errorf("%w: read: %v", ErrEngineCrash, res.err)
			}
			return DecodeEvent(res.line), nil
		}
	}
}

// EnsureReady performs an isready/readyok exchange with a bounded wait.
func (p *Process) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := p.Send(CmdIsReady{}); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitReady(readyCtx); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (p *Process) awaitReady(ctx context.Context) error {
	for {
		ev, err := p.ReadEvent(ctx)
		if err != nil {
			return err
		}
		if _, ok := ev.(EventReadyOk); ok {
			return nil
		}
	}
}

// NewGame resets the engine's internal state before a fresh game.
func (p *Process) NewGame(ctx context.Context) error {
	if err := p.Send(CmdNewGame{}); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}

	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := p.EnsureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts {
			return err
		}
		obslog.L().Warn("engine_newgame_retry", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

// Search submits one request and blocks until the engine answers with a best
// move. The search mutex keeps at most one request outstanding per process.
func (p *Process) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	p.search.Lock()
	defer p.search.Unlock()

	start := time.Now()

	if err := p.Send(CmdPosition{FEN: req.FEN, Moves: req.Moves}); err != nil {
		return SearchResult{}, fmt.Errorf("send position: %w", err)
	}
	if err := p.Send(req.Go); err != nil {
		return SearchResult{}, fmt.Errorf("send go: %w", err)
	}

	var result SearchResult
	for {
		ev, err := p.ReadEvent(ctx)
		if err != nil {
			return SearchResult{}, err
		}
		switch e := ev.(type) {
		case EventInfo:
			// Only the primary line feeds the result telemetry.
			if e.MultiPV > 1 {
				continue
			}
			if e.Score != nil {
				result.Score = e.Score
			}
			if e.Depth > 0 {
				result.Depth = e.Depth
			}
			if len(e.PV) > 0 {
				result.PV = append([]string(nil), e.PV...)
			}
		case EventBestMove:
			result.BestMove = e.Move
			result.Ponder = e.Ponder
			result.Elapsed = time.Since(start)
			return result, nil
		}
	}
}

// Halt asks the engine to cut the current search short. The pending Search
// call still consumes the resulting best move, so no stale result can leak
// into a later exchange.
func (p *Process) Halt() error {
	return p.Send(CmdStop{})
}

// Exited reports whether the subprocess has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop requests graceful shutdown, waits up to a grace period, then
// force-terminates. Idempotent.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		_ = p.Send(CmdQuit{})
		p.mu.Lock()
		_ = p.stdin.Close()
		p.mu.Unlock()

		grace := time.NewTimer(stopGracePeriod)
		defer grace.Stop()
		select {
		case <-p.done:
			p.stopErr = p.waitErr
		case <-grace.C:
			p.kill()
			select {
			case <-p.done:
				p.stopErr = p.waitErr
			case <-ctx.Done():
				p.stopErr = ctx.Err()
			}
		case <-ctx.Done():
			p.kill()
			p.stopErr = ctx.Err()
		}
	})
	return p.stopErr
}
