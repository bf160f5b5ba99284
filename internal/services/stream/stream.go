// Package stream keeps an authenticated user-data websocket alive: it owns the
// listen key lifecycle, heartbeats and reconnects with a fixed backoff.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/copier/pkg/retrier"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultKeepaliveInterval = 25 * time.Minute

	closeListenKeyTimeout = 5 * time.Second
	deadAfterIdleWindows  = 2
)

// ErrDeadConnection is returned when no frame arrived for two heartbeat windows.
var ErrDeadConnection = errors.New("no inbound frames for two heartbeat windows")

var appPing = []byte(`{"method":"ping"}`)

// StreamError wraps any failure that ends a session.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream %s: %v", e.Op, e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }

// ListenKeyAPI manages the token that authorises a user-data stream.
type ListenKeyAPI interface {
	Start(ctx context.Context) (string, error)
	Keepalive(ctx context.Context, key string) error
	Close(ctx context.Context, key string) error
}

// Handler consumes one inbound text frame. A returned error ends the session.
type Handler func(ctx context.Context, data []byte) error

// Hooks observe the session lifecycle. Every field is optional.
type Hooks struct {
	// OnConnecting fires before a listen key is requested.
	OnConnecting func()
	// OnConnected fires once the socket is open, before the first frame is read.
	OnConnected func(ctx context.Context)
	// OnDisconnected fires after a session is fully torn down.
	OnDisconnected func(err error)
}

// Config tunes a Stream.
type Config struct {
	// BaseURL is the websocket endpoint; the listen key is appended as a path segment.
	BaseURL           string
	HeartbeatInterval time.Duration
	KeepaliveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	return c
}

// Stream runs sessions back to back until its context is cancelled.
type Stream struct {
	api    ListenKeyAPI
	dialer Dialer
	cfg    Config
	hooks  Hooks
	logger *zap.Logger
}

// New builds a stream. A nil dialer selects the gorilla websocket dialer.
func New(api ListenKeyAPI, dialer Dialer, cfg Config, hooks Hooks, logger *zap.Logger) *Stream {
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	return &Stream{
		api:    api,
		dialer: dialer,
		cfg:    cfg.withDefaults(),
		hooks:  hooks,
		logger: logger,
	}
}

// URL returns the socket address for a listen key.
func (s *Stream) URL(key string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + key
}

// Run serves handler until ctx is cancelled. Any session failure is followed by
// a fresh listen key and a new socket after one heartbeat interval.
func (s *Stream) Run(ctx context.Context, handler Handler) error {
	r := retrier.New(append(retrier.Fixed(s.cfg.HeartbeatInterval),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			s.logger.Warn("stream session ended, reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
		}))...)

	return r.Do(ctx, func(ctx context.Context) error {
		err := s.session(ctx, handler)
		if s.hooks.OnDisconnected != nil {
			s.hooks.OnDisconnected(err)
		}
		return err
	})
}

func (s *Stream) session(ctx context.Context, handler Handler) error {
	if s.hooks.OnConnecting != nil {
		s.hooks.OnConnecting()
	}

	key, err := s.api.Start(ctx)
	if err != nil {
		return &StreamError{Op: "start listen key", Err: err}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var conn Conn

	defer func() {
		cancel()
		if conn != nil {
			conn.Close()
		}
		wg.Wait()

		closeCtx, closeCancel := context.WithTimeout(context.Background(), closeListenKeyTimeout)
		defer closeCancel()
		if err := s.api.Close(closeCtx, key); err != nil {
			s.logger.Debug("failed to close listen key", zap.Error(err))
		}
	}()

	conn, err = s.dialer.Dial(sessCtx, s.URL(key))
	if err != nil {
		return &StreamError{Op: "dial", Err: err}
	}

	keepaliveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepalive(sessCtx, key, keepaliveErr)
	}()

	if s.hooks.OnConnected != nil {
		s.hooks.OnConnected(sessCtx)
	}

	return s.read(sessCtx, conn, &wg, handler, keepaliveErr)
}

func (s *Stream) keepalive(ctx context.Context, key string, errc chan<- error) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.api.Keepalive(ctx, key); err != nil {
				if ctx.Err() == nil {
					errc <- err
				}
				return
			}
			s.logger.Debug("listen key refreshed")
		}
	}
}

func (s *Stream) read(ctx context.Context, conn Conn, wg *sync.WaitGroup, handler Handler, keepaliveErr <-chan error) error {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	activity := make(chan struct{}, 1)

	conn.OnControl(func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	idle := 0
	timer := time.NewTimer(s.cfg.HeartbeatInterval)
	defer timer.Stop()

	reset := func() {
		idle = 0
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.HeartbeatInterval)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return &StreamError{Op: "read", Err: err}
		case err := <-keepaliveErr:
			return &StreamError{Op: "keepalive", Err: err}
		case <-activity:
			reset()
		case data := <-frames:
			reset()
			if err := handler(ctx, data); err != nil {
				return &StreamError{Op: "handle", Err: err}
			}
		case <-timer.C:
			idle++
			if idle >= deadAfterIdleWindows {
				return &StreamError{Op: "heartbeat", Err: ErrDeadConnection}
			}
			if err := conn.WriteMessage(appPing); err != nil {
				return &StreamError{Op: "ping", Err: err}
			}
			if err := conn.Ping(); err != nil {
				return &StreamError{Op: "ping", Err: err}
			}
			timer.Reset(s.cfg.HeartbeatInterval)
		}
	}
}
