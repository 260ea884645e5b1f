package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const DefaultWSSURL = "wss://api.hyperliquid.xyz/ws"

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type MidsStreamOptions struct {
	URL               string
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// MidsStream keeps a live copy of every mid price pushed on the allMids
// channel. Readers call Snapshot and fall back to REST when it is stale.
type MidsStream struct {
	opts MidsStreamOptions

	mu        sync.RWMutex
	mids      map[string]float64
	updatedAt time.Time
	seenFirst bool
}

func NewMidsStream(opts MidsStreamOptions) *MidsStream {
	if opts.URL == "" {
		opts.URL = DefaultWSSURL
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 20 * time.Second
	}
	if opts.PingTimeout == 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &MidsStream{opts: opts, mids: map[string]float64{}}
}

// Snapshot returns the cached mids for markets if the cache is younger than
// maxAge and holds every requested market.
func (s *MidsStream) Snapshot(markets []string, maxAge time.Duration) (map[string]float64, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updatedAt.IsZero() || (maxAge > 0 && time.Since(s.updatedAt) > maxAge) {
		return nil, false
	}
	out := make(map[string]float64, len(markets))
	for _, m := range markets {
		v, ok := s.mids[m]
		if !ok || v <= 0 {
			return nil, false
		}
		out[m] = v
	}
	return out, true
}

func (s *MidsStream) apply(data json.RawMessage) error {
	var payload struct {
		Mids map[string]string `json:"mids"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for coin, v := range payload.Mids {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.mids[coin] = f
		}
	}
	s.updatedAt = time.Now()
	return nil
}

// Run connects, subscribes and consumes until ctx is done, reconnecting
// with backoff.
func (s *MidsStream) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
		if err != nil {
			s.warn("venue ws connect failed", err)
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		conn.SetReadLimit(2 << 20)
		sub := []byte(`{"method":"subscribe","subscription":{"type":"allMids"}}`)
		if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
			s.warn("venue ws subscribe failed", err)
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("venue ws subscribed", zap.String("channel", "allMids"))
		}
		backoff = s.opts.BackoffMin

		err = s.consume(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *MidsStream) consume(ctx context.Context, conn *websocket.Conn) error {
	heartbeatErr := make(chan error, 1)
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				pingCtx, cancelPing := context.WithTimeout(heartbeatCtx, s.opts.PingTimeout)
				err := conn.Write(pingCtx, websocket.MessageText, []byte(`{"method":"ping"}`))
				cancelPing()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-heartbeatErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		default:
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.warn("venue ws read failed", err)
			}
			return err
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if !strings.EqualFold(env.Channel, "allMids") {
			continue
		}
		if err := s.apply(env.Data); err != nil {
			s.warn("venue ws decode mids failed", err)
			continue
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("venue ws first mids")
		}
	}
}

func (s *MidsStream) warn(msg string, err error) {
	if s.opts.Logger != nil {
		s.opts.Logger.Warn(msg, zap.Error(err))
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
