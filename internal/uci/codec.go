package uci

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The codec is a pure translation layer between structured commands/events and
// the engine's line protocol. It performs no I/O. Unknown input decodes to
// EventUnrecognized rather than failing: the protocol is treated as append-only
// and forward-compatible.

// Command is one outbound protocol command.
type Command interface{ isCommand() }

type CmdUCI struct{}
type CmdIsReady struct{}
type CmdNewGame struct{}

type CmdSetOption struct {
	Name  string
	Value string
}

// CmdPosition sets the root position. An empty FEN (or "startpos") means the
// standard starting arrangement; Moves are appended in order.
type CmdPosition struct {
	FEN   string
	Moves []string
}

// CmdGo starts a search. Zero fields are omitted from the encoded line.
type CmdGo struct {
	MoveTime  time.Duration
	Depth     int
	Nodes     int64
	WhiteTime time.Duration
	BlackTime time.Duration
	WhiteInc  time.Duration
	BlackInc  time.Duration
	Infinite  bool
}

type CmdStop struct{}
type CmdQuit struct{}

func (CmdUCI) isCommand()       {}
func (CmdIsReady) isCommand()   {}
func (CmdNewGame) isCommand()   {}
func (CmdSetOption) isCommand() {}
func (CmdPosition) isCommand()  {}
func (CmdGo) isCommand()        {}
func (CmdStop) isCommand()      {}
func (CmdQuit) isCommand()      {}

// Event is one inbound protocol event.
type Event interface{ isEvent() }

// EventID carries one "id" declaration (field is "name" or "author").
type EventID struct {
	Field string
	Value string
}

// EventOption is an engine option declaration from the handshake.
type EventOption struct {
	Name    string
	Type    string
	Default string
	Min     int
	Max     int
	HasMin  bool
	HasMax  bool
	Vars    []string
}

type EventUCIOk struct{}
type EventReadyOk struct{}

// EventInfo is partial search progress. Shape varies between engines; absent
// fields stay zero and PV may be empty.
type EventInfo struct {
	Depth    int
	SelDepth int
	MultiPV  int
	Score    *Score
	Nodes    int64
	NPS      int64
	TimeMS   int64
	PV       []string
}

type EventBestMove struct {
	Move   string
	Ponder string
}

// EventUnrecognized is the non-fatal catch-all for lines outside the known
// vocabulary.
type EventUnrecognized struct {
	Line string
}

func (EventID) isEvent()           {}
func (EventOption) isEvent()       {}
func (EventUCIOk) isEvent()        {}
func (EventReadyOk) isEvent()      {}
func (EventInfo) isEvent()         {}
func (EventBestMove) isEvent()     {}
func (EventUnrecognized) isEvent() {}

// ScoreKind distinguishes centipawn scores from forced-mate distances. The two
// are never coerced into one numeric scale.
type ScoreKind int

const (
	ScoreCentipawns ScoreKind = iota
	ScoreMate
)

// Score is a tagged evaluation: Value is centipawns when Kind is
// ScoreCentipawns, signed mate distance in moves when Kind is ScoreMate.
type Score struct {
	Kind  ScoreKind
	Value int
}

// MateFor reports whether the score is a forced mate for the side to move.
func (s Score) MateFor() bool { return s.Kind == ScoreMate && s.Value > 0 }

func (s Score) String() string {
	if s.Kind == ScoreMate {
		return fmt.Sprintf("mate %d", s.Value)
	}
	return fmt.Sprintf("cp %d", s.Value)
}

// EncodeCommand renders a command as one protocol line (no trailing newline).
func EncodeCommand(cmd Command) (string, error) {
	switch c := cmd.(type) {
	case CmdUCI:
		return "uci", nil
	case CmdIsReady:
		return "isready", nil
	case CmdNewGame:
		return "ucinewgame", nil
	case CmdSetOption:
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("setoption requires a name")
		}
		if c.Value == "" {
			return "setoption name " + c.Name, nil
		}
		return fmt.Sprintf("setoption name %s value %s", c.Name, c.Value), nil
	case CmdPosition:
		var sb strings.Builder
		fen := strings.TrimSpace(c.FEN)
		if fen == "" || fen == "startpos" {
			sb.WriteString("position startpos")
		} else {
			sb.WriteString("position fen ")
			sb.WriteString(fen)
		}
		if len(c.Moves) > 0 {
			sb.WriteString(" moves ")
			sb.WriteString(strings.Join(c.Moves, " "))
		}
		return sb.String(), nil
	case CmdGo:
		args := []string{"go"}
		if c.Depth > 0 {
			args = append(args, "depth", strconv.Itoa(c.Depth))
		}
		if c.Nodes > 0 {
			args = append(args, "nodes", strconv.FormatInt(c.Nodes, 10))
		}
		if c.MoveTime > 0 {
			args = append(args, "movetime", strconv.FormatInt(c.MoveTime.Milliseconds(), 10))
		}
		if c.WhiteTime > 0 {
			args = append(args, "wtime", strconv.FormatInt(c.WhiteTime.Milliseconds(), 10))
		}
		if c.BlackTime > 0 {
			args = append(args, "btime", strconv.FormatInt(c.BlackTime.Milliseconds(), 10))
		}
		if c.WhiteInc > 0 {
			args = append(args, "winc", strconv.FormatInt(c.WhiteInc.Milliseconds(), 10))
		}
		if c.BlackInc > 0 {
			args = append(args, "binc", strconv.FormatInt(c.BlackInc.Milliseconds(), 10))
		}
		if c.Infinite {
			args = append(args, "infinite")
		}
		if len(args) == 1 {
			return "", fmt.Errorf("go requires at least one search limit")
		}
		return strings.Join(args, " "), nil
	case CmdStop:
		return "stop", nil
	case CmdQuit:
		return "quit", nil
	default:
		return "", fmt.Errorf("unknown command type %T", cmd)
	}
}

// DecodeCommand parses one protocol line into a command. It accepts the same
// vocabulary EncodeCommand produces; scripted engine stubs use it to react to
// driver output. Unknown lines return nil.
func DecodeCommand(line string) Command {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "uci":
		return CmdUCI{}
	case "isready":
		return CmdIsReady{}
	case "ucinewgame":
		return CmdNewGame{}
	case "stop":
		return CmdStop{}
	case "quit":
		return CmdQuit{}
	case "setoption":
		return decodeSetOption(fields[1:])
	case "position":
		return decodePosition(fields[1:])
	case "go":
		return decodeGo(fields[1:])
	default:
		return nil
	}
}

func decodeSetOption(fields []string) Command {
	var name, value []string
	cur := (*[]string)(nil)
	for _, f := range fields {
		switch f {
		case "name":
			cur = &name
		case "value":
			cur = &value
		default:
			if cur != nil {
				*cur = append(*cur, f)
			}
		}
	}
	if len(name) == 0 {
		return nil
	}
	return CmdSetOption{Name: strings.Join(name, " "), Value: strings.Join(value, " ")}
}

func decodePosition(fields []string) Command {
	if len(fields) == 0 {
		return nil
	}
	cmd := CmdPosition{}
	i := 0
	switch fields[0] {
	case "startpos":
		i = 1
	case "fen":
		j := 1
		for ; j < len(fields) && fields[j] != "moves"; j++ {
		}
		cmd.FEN = strings.Join(fields[1:j], " ")
		i = j
	default:
		return nil
	}
	if i < len(fields) && fields[i] == "moves" {
		cmd.Moves = append([]string(nil), fields[i+1:]...)
	}
	return cmd
}

func decodeGo(fields []string) Command {
	cmd := CmdGo{}
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "infinite":
			cmd.Infinite = true
		case "depth":
			if i+1 < len(fields) {
				cmd.Depth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "nodes":
			if i+1 < len(fields) {
				cmd.Nodes, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "movetime":
			if i+1 < len(fields) {
				cmd.MoveTime = millisField(fields[i+1])
				i++
			}
		case "wtime":
			if i+1 < len(fields) {
				cmd.WhiteTime = millisField(fields[i+1])
				i++
			}
		case "btime":
			if i+1 < len(fields) {
				cmd.BlackTime = millisField(fields[i+1])
				i++
			}
		case "winc":
			if i+1 < len(fields) {
				cmd.WhiteInc = millisField(fields[i+1])
				i++
			}
		case "binc":
			if i+1 < len(fields) {
				cmd.BlackInc = millisField(fields[i+1])
				i++
			}
		}
	}
	return cmd
}

func millisField(s string) time.Duration {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// DecodeEvent parses one engine output line into a structured event. It never
// fails: anything outside the vocabulary becomes EventUnrecognized.
func DecodeEvent(line string) Event {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return EventUnrecognized{Line: line}
	}
	switch fields[0] {
	case "uciok":
		return EventUCIOk{}
	case "readyok":
		return EventReadyOk{}
	case "id":
		if len(fields) >= 3 && (fields[1] == "name" || fields[1] == "author") {
			return EventID{Field: fields[1], Value: strings.Join(fields[2:], " ")}
		}
		return EventUnrecognized{Line: line}
	case "option":
		if ev, ok := decodeOption(fields[1:]); ok {
			return ev
		}
		return EventUnrecognized{Line: line}
	case "info":
		return decodeInfo(fields[1:])
	case "bestmove":
		if len(fields) < 2 {
			return EventUnrecognized{Line: line}
		}
		ev := EventBestMove{Move: fields[1]}
		if len(fields) >= 4 && fields[2] == "ponder" {
			ev.Ponder = fields[3]
		}
		return ev
	default:
		return EventUnrecognized{Line: line}
	}
}

func decodeOption(fields []string) (EventOption, bool) {
	var opt EventOption
	var name, def []string
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "name":
			for i+1 < len(fields) && !isOptionKeyword(fields[i+1]) {
				name = append(name, fields[i+1])
				i++
			}
		case "type":
			if i+1 < len(fields) {
				opt.Type = fields[i+1]
				i++
			}
		case "default":
			for i+1 < len(fields) && !isOptionKeyword(fields[i+1]) {
				def = append(def, fields[i+1])
				i++
			}
		case "min":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					opt.Min, opt.HasMin = v, true
				}
				i++
			}
		case "max":
			if i+1 < len(fields) {
				if v, err := strconv.Atoi(fields[i+1]); err == nil {
					opt.Max, opt.HasMax = v, true
				}
				i++
			}
		case "var":
			if i+1 < len(fields) {
				opt.Vars = append(opt.Vars, fields[i+1])
				i++
			}
		}
	}
	if len(name) == 0 {
		return EventOption{}, false
	}
	opt.Name = strings.Join(name, " ")
	opt.Default = strings.Join(def, " ")
	return opt, true
}

func isOptionKeyword(s string) bool {
	switch s {
	case "name", "type", "default", "min", "max", "var":
		return true
	}
	return false
}

func decodeInfo(fields []string) Event {
	info := EventInfo{}
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				info.Depth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "seldepth":
			if i+1 < len(fields) {
				info.SelDepth, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "multipv":
			if i+1 < len(fields) {
				info.MultiPV, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "nodes":
			if i+1 < len(fields) {
				info.Nodes, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "nps":
			if i+1 < len(fields) {
				info.NPS, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "time":
			if i+1 < len(fields) {
				info.TimeMS, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "score":
			if i+2 < len(fields) {
				if v, err := strconv.Atoi(fields[i+2]); err == nil {
					switch fields[i+1] {
					case "cp":
						info.Score = &Score{Kind: ScoreCentipawns, Value: v}
					case "mate":
						info.Score = &Score{Kind: ScoreMate, Value: v}
					}
				}
				i += 2
			}
		case "pv":
			info.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		}
	}
	return info
}

// EncodeEvent renders an event back into its canonical protocol line. Used by
// scripted engine stubs and to check codec stability.
func EncodeEvent(ev Event) (string, error) {
	switch e := ev.(type) {
	case EventUCIOk:
		return "uciok", nil
	case EventReadyOk:
		return "readyok", nil
	case EventID:
		if e.Field != "name" && e.Field != "author" {
			return "", fmt.Errorf("id field must be name or author")
		}
		return fmt.Sprintf("id %s %s", e.Field, e.Value), nil
	case EventOption:
		var sb strings.Builder
		sb.WriteString("option name ")
		sb.WriteString(e.Name)
		sb.WriteString(" type ")
		sb.WriteString(e.Type)
		if e.Default != "" {
			sb.WriteString(" default ")
			sb.WriteString(e.Default)
		}
		if e.HasMin {
			sb.WriteString(" min ")
			sb.WriteString(strconv.Itoa(e.Min))
		}
		if e.HasMax {
			sb.WriteString(" max ")
			sb.WriteString(strconv.Itoa(e.Max))
		}
		for _, v := range e.Vars {
			sb.WriteString(" var ")
			sb.WriteString(v)
		}
		return sb.String(), nil
	case EventInfo:
		args := []string{"info"}
		if e.Depth > 0 {
			args = append(args, "depth", strconv.Itoa(e.Depth))
		}
		if e.SelDepth > 0 {
			args = append(args, "seldepth", strconv.Itoa(e.SelDepth))
		}
		if e.MultiPV > 0 {
			args = append(args, "multipv", strconv.Itoa(e.MultiPV))
		}
		if e.Score != nil {
			args = append(args, "score", e.Score.String())
		}
		if e.Nodes > 0 {
			args = append(args, "nodes", strconv.FormatInt(e.Nodes, 10))
		}
		if e.NPS > 0 {
			args = append(args, "nps", strconv.FormatInt(e.NPS, 10))
		}
		if e.TimeMS > 0 {
			args = append(args, "time", strconv.FormatInt(e.TimeMS, 10))
		}
		if len(e.PV) > 0 {
			args = append(args, "pv")
			args = append(args, e.PV...)
		}
		return strings.Join(args, " "), nil
	case EventBestMove:
		if e.Move == "" {
			return "", fmt.Errorf("bestmove requires a move")
		}
		if e.Ponder != "" {
			return fmt.Sprintf("bestmove %s ponder %s", e.Move, e.Ponder), nil
		}
		return "bestmove " + e.Move, nil
	case EventUnrecognized:
		return e.Line, nil
	default:
		return "", fmt.Errorf("unknown event type %T", ev)
	}
}
