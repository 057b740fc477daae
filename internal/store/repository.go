package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/halvard/knightshift/internal/session"
)

// Repository archives finished games in Postgres, PGN included. Optional: a
// nil Repository is a no-op so the agent runs without a database.
type Repository struct {
	db      *sql.DB
	botName string
}

func NewRepository(databaseURL, botName string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, botName: botName}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame upserts one finished game.
func (r *Repository) SaveGame(ctx context.Context, rec *GameRecord) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}

	white, black := r.botName, rec.Opponent
	if rec.Color == session.Black {
		white, black = rec.Opponent, r.botName
	}
	pgnResult := pgnResultFor(rec)
	pgn := buildPGN(rec, white, black, pgnResult)

	movesUCIRaw, _ := json.Marshal(rec.MovesUCI)
	movesSANRaw, _ := json.Marshal(rec.MovesSAN)
	duration := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO games (
	    game_id, record_id, opponent, color, time_control,
	    result, result_reason, moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    record_id=EXCLUDED.record_id,
	    opponent=EXCLUDED.opponent,
	    color=EXCLUDED.color,
	    time_control=EXCLUDED.time_control,
	    result=EXCLUDED.result,
	    result_reason=EXCLUDED.result_reason,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.GameID, rec.ID, rec.Opponent, string(rec.Color), rec.TimeControl,
		string(rec.Status), string(rec.Reason), string(movesUCIRaw), string(movesSANRaw), pgn,
		rec.StartedAt, rec.EndedAt, duration,
	)
	return err
}

// pgnResultFor renders the PGN result token from the agent's perspective.
func pgnResultFor(rec *GameRecord) string {
	var winner session.Color
	switch rec.Status {
	case session.StatusWin:
		winner = rec.Color
	case session.StatusLoss:
		winner = rec.Color.Opponent()
	case session.StatusDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
	if winner == session.White {
		return "1-0"
	}
	return "0-1"
}

func buildPGN(rec *GameRecord, white, black, pgnResult string) string {
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Knightshift\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))
	if strings.TrimSpace(rec.TimeControl) != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(rec.TimeControl)))
	}
	if strings.TrimSpace(string(rec.Reason)) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(rec.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
