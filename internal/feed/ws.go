package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/halvard/knightshift/pkg/feeddto"
)

// StreamState tracks the event stream connection lifecycle.
type StreamState string

const (
	StreamDisconnected StreamState = "disconnected"
	StreamConnecting   StreamState = "connecting"
	StreamConnected    StreamState = "connected"
	StreamReconnecting StreamState = "reconnecting"
	StreamFailed       StreamState = "failed"
)

type EventCallback func(ev *feeddto.GameEvent)

type StateCallback func(state StreamState)

// Stream is the ingress half of the matchmaking boundary: a websocket
// delivering game events as JSON envelopes, with reconnect and keepalive.
type Stream struct {
	wsURL string

	conn   *websocket.Conn
	state  StreamState
	stateM sync.RWMutex

	eventCbs []EventCallback
	stateCbs []StateCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewStream(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *Stream {
	return &Stream{
		wsURL:                wsURL,
		state:                StreamDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// SetHeaderProvider injects headers into the websocket handshake.
func (s *Stream) SetHeaderProvider(h HeaderProvider) { s.headerProvider = h }

func (s *Stream) OnEvent(cb EventCallback) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.eventCbs = append(s.eventCbs, cb)
}

func (s *Stream) OnStateChange(cb StateCallback) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.stateCbs = append(s.stateCbs, cb)
}

func (s *Stream) Connect(ctx context.Context) error {
	s.stateM.Lock()
	if s.state == StreamConnected || s.state == StreamConnecting {
		s.stateM.Unlock()
		return nil
	}
	s.stateM.Unlock()

	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())
	s.setState(StreamConnecting)

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StreamFailed)
		s.scheduleReconnect()
		return err
	}

	s.conn = conn
	s.setState(StreamConnected)

	s.wg.Add(2)
	go s.listen()
	go s.pingLoop()
	return nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.buildHeaders(),
	})
	return conn, err
}

func (s *Stream) listen() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if s.conn == nil {
			return
		}
		var env feeddto.Envelope
		if err := wsjson.Read(s.rootCtx, s.conn, &env); err != nil {
			if s.isStopping() {
				return
			}
			s.setState(StreamDisconnected)
			_ = s.closeConn(websocket.StatusGoingAway, "reconnect")
			s.scheduleReconnect()
			return
		}

		ev, err := DecodeEnvelope(env)
		if err != nil {
			// Malformed frames are dropped; the stream itself stays up.
			continue
		}

		s.cbM.RLock()
		callbacks := make([]EventCallback, len(s.eventCbs))
		copy(callbacks, s.eventCbs)
		s.cbM.RUnlock()
		for _, cb := range callbacks {
			if cb != nil {
				cb(ev)
			}
		}
	}
}

func (s *Stream) pingLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			if s.conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
			err := s.conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					if s.isStopping() {
						return
					}
					s.setState(StreamDisconnected)
					_ = s.closeConn(websocket.StatusGoingAway, "ping failure")
					s.scheduleReconnect()
					failures = 0
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Stream) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 {
		return
	}
	s.setState(StreamReconnecting)

	go func() {
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			delay := backoffDuration(attempt)
			if delay < s.reconnectDelay {
				delay = s.reconnectDelay
			}
			select {
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}

			conn, err := s.dial(s.rootCtx)
			if err != nil {
				continue
			}

			s.conn = conn
			s.setState(StreamConnected)

			s.wg.Add(2)
			go s.listen()
			go s.pingLoop()
			return
		}
		s.setState(StreamFailed)
	}()
}

func (s *Stream) setState(state StreamState) {
	s.stateM.Lock()
	s.state = state
	s.stateM.Unlock()

	s.cbM.RLock()
	callbacks := make([]StateCallback, len(s.stateCbs))
	copy(callbacks, s.stateCbs)
	s.cbM.RUnlock()
	for _, cb := range callbacks {
		if cb != nil {
			cb(state)
		}
	}
}

func (s *Stream) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	_ = s.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if s.rootCancel != nil {
			s.rootCancel()
		}
		return nil
	}
}

func (s *Stream) closeConn(code websocket.StatusCode, reason string) error {
	if s.conn == nil {
		return nil
	}
	defer func() { s.conn = nil }()
	return s.conn.Close(code, reason)
}

func (s *Stream) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Stream) buildHeaders() http.Header {
	hdr := http.Header{}
	if s.headerProvider == nil {
		return hdr
	}
	for k, v := range s.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

// DecodeEnvelope turns a wire envelope into a typed game event.
func DecodeEnvelope(env feeddto.Envelope) (*feeddto.GameEvent, error) {
	ev := &feeddto.GameEvent{Type: env.Type}
	switch env.Type {
	case feeddto.EventChallenge:
		ev.Challenge = &feeddto.Challenge{}
		if err := json.Unmarshal(env.Payload, ev.Challenge); err != nil {
			return nil, fmt.Errorf("decode challenge: %w", err)
		}
	case feeddto.EventGameStart:
		ev.Start = &feeddto.GameStart{}
		if err := json.Unmarshal(env.Payload, ev.Start); err != nil {
			return nil, fmt.Errorf("decode game start: %w", err)
		}
	case feeddto.EventGameState:
		ev.State = &feeddto.GameState{}
		if err := json.Unmarshal(env.Payload, ev.State); err != nil {
			return nil, fmt.Errorf("decode game state: %w", err)
		}
	case feeddto.EventDrawOffer:
		ev.Draw = &feeddto.DrawOffer{}
		if err := json.Unmarshal(env.Payload, ev.Draw); err != nil {
			return nil, fmt.Errorf("decode draw offer: %w", err)
		}
	case feeddto.EventGameEnd:
		ev.End = &feeddto.GameEnd{}
		if err := json.Unmarshal(env.Payload, ev.End); err != nil {
			return nil, fmt.Errorf("decode game end: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	return ev, nil
}
