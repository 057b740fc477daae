package uci

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine speaks the engine side of the protocol over in-memory pipes.
type fakeEngine struct {
	stdout *io.PipeWriter
	waitCh chan error

	mu      sync.Mutex
	killed  bool
	scripts []func(cmd Command, out func(Event))
}

func newFakeEngine(t *testing.T) (*Process, *fakeEngine) {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	fe := &fakeEngine{
		stdout: stdoutW,
		waitCh: make(chan error, 1),
	}

	go func() {
		sc := bufio.NewScanner(stdinR)
		for sc.Scan() {
			cmd := DecodeCommand(strings.TrimSpace(sc.Text()))
			if cmd == nil {
				continue
			}
			if _, ok := cmd.(CmdQuit); ok {
				fe.exit(nil)
				return
			}
			fe.handle(cmd)
		}
		fe.exit(nil)
	}()

	proc := newProcessFromPipes(stdinW, stdoutR, fe.waitCh, func() {
		fe.mu.Lock()
		fe.killed = true
		fe.mu.Unlock()
		fe.exit(errors.New("killed"))
	})
	t.Cleanup(func() { _ = proc.Stop(context.Background()) })
	return proc, fe
}

// on registers the handler for the next matching command, FIFO.
func (fe *fakeEngine) on(fn func(cmd Command, out func(Event))) {
	fe.mu.Lock()
	fe.scripts = append(fe.scripts, fn)
	fe.mu.Unlock()
}

func (fe *fakeEngine) handle(cmd Command) {
	out := func(ev Event) {
		line, err := EncodeEvent(ev)
		if err != nil {
			return
		}
		_, _ = io.WriteString(fe.stdout, line+"\n")
	}

	switch cmd.(type) {
	case CmdUCI:
		out(EventID{Field: "name", Value: "FakeEngine 1.0"})
		out(EventID{Field: "author", Value: "nobody"})
		out(EventOption{Name: "Hash", Type: "spin", Default: "16", Min: 1, Max: 1024, HasMin: true, HasMax: true})
		out(EventUCIOk{})
	case CmdIsReady:
		out(EventReadyOk{})
	case CmdGo, CmdStop:
		fe.mu.Lock()
		var fn func(Command, func(Event))
		if len(fe.scripts) > 0 {
			fn = fe.scripts[0]
			fe.scripts = fe.scripts[1:]
		}
		fe.mu.Unlock()
		if fn != nil {
			fn(cmd, out)
		}
	}
}

func (fe *fakeEngine) exit(err error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	select {
	case fe.waitCh <- err:
		_ = fe.stdout.Close()
	default:
	}
}

func TestProcessHandshake(t *testing.T) {
	proc, _ := newFakeEngine(t)
	ctx := context.Background()

	require.NoError(t, proc.initialize(ctx, Options{Threads: 2, HashMB: 64}))

	id := proc.Identity()
	assert.Equal(t, "FakeEngine 1.0", id.Name)
	assert.Equal(t, "nobody", id.Author)
	require.Len(t, id.Options, 1)
	assert.Equal(t, "Hash", id.Options[0].Name)
}

func TestProcessSearch(t *testing.T) {
	proc, fe := newFakeEngine(t)
	ctx := context.Background()
	require.NoError(t, proc.initialize(ctx, Options{}))

	var gotGo Command
	fe.on(func(cmd Command, out func(Event)) {
		gotGo = cmd
		out(EventInfo{Depth: 5, Score: &Score{Kind: ScoreCentipawns, Value: 23}, PV: []string{"e2e4", "e7e5"}})
		out(EventInfo{Depth: 9, Score: &Score{Kind: ScoreCentipawns, Value: 31}, PV: []string{"e2e4", "c7c5"}})
		out(EventBestMove{Move: "e2e4", Ponder: "c7c5"})
	})

	result, err := proc.Search(ctx, SearchRequest{
		Moves: []string{},
		Go:    CmdGo{MoveTime: 500 * time.Millisecond},
	})
	require.NoError(t, err)
	assert.Equal(t, CmdGo{MoveTime: 500 * time.Millisecond}, gotGo)
	assert.Equal(t, "e2e4", result.BestMove)
	assert.Equal(t, "c7c5", result.Ponder)
	assert.Equal(t, 9, result.Depth)
	require.NotNil(t, result.Score)
	assert.Equal(t, 31, result.Score.Value)
	assert.Equal(t, []string{"e2e4", "c7c5"}, result.PV)
}

func TestProcessSearchIgnoresSecondaryLines(t *testing.T) {
	proc, fe := newFakeEngine(t)
	ctx := context.Background()
	require.NoError(t, proc.initialize(ctx, Options{}))

	fe.on(func(cmd Command, out func(Event)) {
		out(EventInfo{Depth: 10, MultiPV: 1, Score: &Score{Kind: ScoreCentipawns, Value: 50}, PV: []string{"d2d4"}})
		out(EventInfo{Depth: 10, MultiPV: 2, Score: &Score{Kind: ScoreCentipawns, Value: -300}, PV: []string{"a2a3"}})
		out(EventBestMove{Move: "d2d4"})
	})

	result, err := proc.Search(ctx, SearchRequest{Go: CmdGo{Depth: 10}})
	require.NoError(t, err)
	require.NotNil(t, result.Score)
	assert.Equal(t, 50, result.Score.Value)
	assert.Equal(t, []string{"d2d4"}, result.PV)
}

func TestProcessCrashDuringSearch(t *testing.T) {
	proc, fe := newFakeEngine(t)
	ctx := context.Background()
	require.NoError(t, proc.initialize(ctx, Options{}))

	fe.on(func(cmd Command, out func(Event)) {
		fe.exit(errors.New("segfault"))
	})

	_, err := proc.Search(ctx, SearchRequest{Go: CmdGo{MoveTime: 100 * time.Millisecond}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineCrash)

	// The process must report dead so the pool can replace it.
	require.Eventually(t, proc.Exited, time.Second, 10*time.Millisecond)
}

func TestProcessHaltDrainsBestMove(t *testing.T) {
	proc, fe := newFakeEngine(t)
	ctx := context.Background()
	require.NoError(t, proc.initialize(ctx, Options{}))

	started := make(chan struct{})
	fe.on(func(cmd Command, out func(Event)) {
		close(started)
		// Engine answers only once stop arrives.
	})
	fe.on(func(cmd Command, out func(Event)) {
		out(EventBestMove{Move: "g1f3"})
	})

	type outcome struct {
		result SearchResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := proc.Search(ctx, SearchRequest{Go: CmdGo{Infinite: true}})
		done <- outcome{result, err}
	}()

	<-started
	require.NoError(t, proc.Halt())

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, "g1f3", o.result.BestMove)
	case <-time.After(2 * time.Second):
		t.Fatal("search did not resolve after halt")
	}
}

func TestProcessStopIsIdempotent(t *testing.T) {
	proc, _ := newFakeEngine(t)
	ctx := context.Background()
	require.NoError(t, proc.initialize(ctx, Options{}))

	require.NoError(t, proc.Stop(context.Background()))
	require.NoError(t, proc.Stop(context.Background()))
	assert.True(t, proc.Exited())
}

func TestNewProcessMissingBinary(t *testing.T) {
	_, err := NewProcess(context.Background(), "/nonexistent/engine-binary", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineStartup)
}
