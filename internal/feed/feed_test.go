package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/knightshift/pkg/feeddto"
)

func envelope(t *testing.T, typ feeddto.EventType, payload any) feeddto.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return feeddto.Envelope{Type: typ, Payload: raw}
}

func TestDecodeEnvelope(t *testing.T) {
	ev, err := DecodeEnvelope(envelope(t, feeddto.EventGameStart, feeddto.GameStart{
		GameID: "g1", Color: "black", Opponent: "rival", TimeLimit: 180_000, Increment: 2_000,
	}))
	require.NoError(t, err)
	require.NotNil(t, ev.Start)
	assert.Equal(t, "g1", ev.GameID())
	assert.Equal(t, "black", ev.Start.Color)

	ev, err = DecodeEnvelope(envelope(t, feeddto.EventGameState, feeddto.GameState{
		GameID: "g1", Moves: "e2e4 e7e5", WhiteTime: 59_000, BlackTime: 58_000, Status: feeddto.StatusStarted,
	}))
	require.NoError(t, err)
	require.NotNil(t, ev.State)
	assert.Equal(t, []string{"e2e4", "e7e5"}, ev.State.MoveList())
	assert.False(t, ev.State.Terminal())

	ev, err = DecodeEnvelope(envelope(t, feeddto.EventDrawOffer, feeddto.DrawOffer{GameID: "g1", From: "rival"}))
	require.NoError(t, err)
	require.NotNil(t, ev.Draw)

	ev, err = DecodeEnvelope(envelope(t, feeddto.EventGameEnd, feeddto.GameEnd{GameID: "g1", Status: feeddto.StatusMate, Winner: "white"}))
	require.NoError(t, err)
	require.NotNil(t, ev.End)
	assert.Equal(t, feeddto.StatusMate, ev.End.Status)
}

func TestDecodeEnvelopeUnknownType(t *testing.T) {
	_, err := DecodeEnvelope(feeddto.Envelope{Type: "telemetry", Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestGameStateTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		feeddto.StatusCreated:   false,
		feeddto.StatusStarted:   false,
		"":                      false,
		feeddto.StatusMate:      true,
		feeddto.StatusResign:    true,
		feeddto.StatusOutOfTime: true,
		feeddto.StatusDraw:      true,
		feeddto.StatusAborted:   true,
	} {
		st := feeddto.GameState{Status: status}
		assert.Equal(t, terminal, st.Terminal(), "status %q", status)
	}
}

func TestBackoffDuration(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDuration(1))
	assert.Equal(t, 200*time.Millisecond, backoffDuration(2))
	assert.Equal(t, 400*time.Millisecond, backoffDuration(3))
	// Capped: attempt 6 and beyond share the same ceiling.
	assert.Equal(t, backoffDuration(6), backoffDuration(20))
	assert.Equal(t, 100*time.Millisecond, backoffDuration(0))
}

func TestBearerToken(t *testing.T) {
	h := BearerToken("secret")()
	assert.Equal(t, "Bearer secret", h["Authorization"])
	assert.Nil(t, BearerToken("  ")())
}
