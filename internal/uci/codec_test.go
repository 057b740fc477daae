package uci

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want string
	}{
		{"uci", CmdUCI{}, "uci"},
		{"isready", CmdIsReady{}, "isready"},
		{"ucinewgame", CmdNewGame{}, "ucinewgame"},
		{"stop", CmdStop{}, "stop"},
		{"quit", CmdQuit{}, "quit"},
		{"setoption with value", CmdSetOption{Name: "Threads", Value: "4"}, "setoption name Threads value 4"},
		{"setoption button", CmdSetOption{Name: "Clear Hash"}, "setoption name Clear Hash"},
		{"position startpos", CmdPosition{}, "position startpos"},
		{
			"position startpos with moves",
			CmdPosition{Moves: []string{"e2e4", "e7e5"}},
			"position startpos moves e2e4 e7e5",
		},
		{
			"position fen",
			CmdPosition{FEN: "8/8/8/8/8/8/8/K6k w - - 0 1", Moves: []string{"a1a2"}},
			"position fen 8/8/8/8/8/8/8/K6k w - - 0 1 moves a1a2",
		},
		{"go movetime", CmdGo{MoveTime: 1500 * time.Millisecond}, "go movetime 1500"},
		{"go depth", CmdGo{Depth: 12}, "go depth 12"},
		{"go nodes", CmdGo{Nodes: 1_000_000}, "go nodes 1000000"},
		{
			"go clocks",
			CmdGo{
				WhiteTime: 60 * time.Second, BlackTime: 45 * time.Second,
				WhiteInc: 2 * time.Second, BlackInc: 2 * time.Second,
			},
			"go wtime 60000 btime 45000 winc 2000 binc 2000",
		},
		{"go infinite", CmdGo{Infinite: true}, "go infinite"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeCommand(tc.cmd)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeCommandRejectsEmptyGo(t *testing.T) {
	_, err := EncodeCommand(CmdGo{})
	assert.Error(t, err)
}

func TestDecodeCommandRoundTrip(t *testing.T) {
	cmds := []Command{
		CmdUCI{},
		CmdIsReady{},
		CmdNewGame{},
		CmdStop{},
		CmdQuit{},
		CmdSetOption{Name: "Move Overhead", Value: "300"},
		CmdPosition{Moves: []string{"e2e4", "e7e5", "g1f3"}},
		CmdPosition{FEN: "8/8/8/8/8/8/8/K6k w - - 0 1"},
		CmdGo{MoveTime: 2 * time.Second},
		CmdGo{Depth: 8, Infinite: false},
	}
	for _, cmd := range cmds {
		line, err := EncodeCommand(cmd)
		require.NoError(t, err)
		assert.Equal(t, cmd, DecodeCommand(line), "line %q", line)
	}
}

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		line string
		want Event
	}{
		{"uciok", EventUCIOk{}},
		{"readyok", EventReadyOk{}},
		{"id name Stockfish 16", EventID{Field: "name", Value: "Stockfish 16"}},
		{"id author the Stockfish developers", EventID{Field: "author", Value: "the Stockfish developers"}},
		{
			"option name Hash type spin default 16 min 1 max 33554432",
			EventOption{Name: "Hash", Type: "spin", Default: "16", Min: 1, Max: 33554432, HasMin: true, HasMax: true},
		},
		{
			"option name Style type combo default Normal var Solid var Normal var Risky",
			EventOption{Name: "Style", Type: "combo", Default: "Normal", Vars: []string{"Solid", "Normal", "Risky"}},
		},
		{"bestmove e2e4", EventBestMove{Move: "e2e4"}},
		{"bestmove e2e4 ponder e7e5", EventBestMove{Move: "e2e4", Ponder: "e7e5"}},
		{
			"info depth 20 seldepth 28 multipv 1 score cp 31 nodes 1500000 nps 950000 time 1579 pv e2e4 e7e5 g1f3",
			EventInfo{
				Depth: 20, SelDepth: 28, MultiPV: 1,
				Score: &Score{Kind: ScoreCentipawns, Value: 31},
				Nodes: 1500000, NPS: 950000, TimeMS: 1579,
				PV: []string{"e2e4", "e7e5", "g1f3"},
			},
		},
		{
			"info depth 30 score mate -3 pv h7h8",
			EventInfo{Depth: 30, Score: &Score{Kind: ScoreMate, Value: -3}, PV: []string{"h7h8"}},
		},
		{"some chatter from the engine", EventUnrecognized{Line: "some chatter from the engine"}},
		{"bestmove", EventUnrecognized{Line: "bestmove"}},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			assert.Equal(t, tc.want, DecodeEvent(tc.line))
		})
	}
}

func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		EventUCIOk{},
		EventReadyOk{},
		EventID{Field: "name", Value: "TestEngine 1.0"},
		EventBestMove{Move: "g1f3", Ponder: "b8c6"},
		EventInfo{Depth: 10, Score: &Score{Kind: ScoreMate, Value: 2}, PV: []string{"d8h4"}},
	}
	for _, ev := range events {
		line, err := EncodeEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, ev, DecodeEvent(line), "line %q", line)
	}
}

func TestScore(t *testing.T) {
	assert.True(t, Score{Kind: ScoreMate, Value: 2}.MateFor())
	assert.False(t, Score{Kind: ScoreMate, Value: -2}.MateFor())
	assert.False(t, Score{Kind: ScoreCentipawns, Value: 500}.MateFor())
	assert.Equal(t, "cp -42", Score{Kind: ScoreCentipawns, Value: -42}.String())
	assert.Equal(t, "mate 4", Score{Kind: ScoreMate, Value: 4}.String())
}
