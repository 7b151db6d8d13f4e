package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bizledger/internal/models"
)

const (
	minReconnect = 250 * time.Millisecond
	maxReconnect = 5 * time.Second
)

var ErrSubscriptionRunning = errors.New("subscription already running")

// Subscription follows the change feed for one owner and feeds every event
// to a handler. It never supplies data, only invalidation.
type Subscription struct {
	url     string
	token   func() string
	handle  func(models.ChangeEvent)
	resync  func(ownerID string)
	dialer  *websocket.Dialer
	logger  *slog.Logger
	backoff time.Duration

	mu        sync.Mutex
	running   bool
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	connected chan struct{}
}

// Subscribe builds a Subscription that invalidates this client's cache.
func (c *Client) Subscribe() *Subscription {
	wsURL := c.baseURL + "/ws/changes"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	return &Subscription{
		url:     wsURL,
		token:   c.Token,
		handle:  c.HandleEvent,
		resync:  c.Resync,
		dialer:  websocket.DefaultDialer,
		logger:  c.logger,
		backoff: minReconnect,
	}
}

// Start begins following ownerID's changes in the background.
func (s *Subscription) Start(ctx context.Context, ownerID string) error {
	if ownerID == "" || s.token() == "" {
		return &AuthError{Message: "not signed in"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSubscriptionRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancelFn = cancel
	s.doneCh = make(chan struct{})
	s.connected = make(chan struct{}, 1)
	go s.run(runCtx, ownerID, s.doneCh, s.connected)
	return nil
}

// Stop tears the subscription down and waits for the reader to exit. It is
// safe to call more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancelFn, s.doneCh
	s.running = false
	s.cancelFn = nil
	s.mu.Unlock()

	cancel()
	<-done
}

// Connected is signalled each time a connection is established.
func (s *Subscription) Connected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Subscription) run(ctx context.Context, ownerID string, done, connected chan struct{}) {
	defer close(done)
	delay := s.backoff
	reconnect := false
	for {
		err := s.session(ctx, ownerID, connected, reconnect)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			delay = s.backoff
			reconnect = true
		}
		s.logger.Debug("change feed disconnected", "owner_id", ownerID, "retry_in", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
		if delay > maxReconnect {
			delay = maxReconnect
		}
	}
}

// session runs one connection. A nil error means the connection was up and
// later dropped. On a reconnect everything cached for the owner is
// invalidated, since events sent while the feed was down are lost.
func (s *Subscription) session(ctx context.Context, ownerID string, connected chan struct{}, reconnect bool) error {
	target := s.url + "?token=" + url.QueryEscape(s.token())
	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}
	if reconnect && s.resync != nil {
		s.resync(ownerID)
	}
	select {
	case connected <- struct{}{}:
	default:
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var event models.ChangeEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			s.logger.Warn("dropping malformed change event", "error", err)
			continue
		}
		if event.OwnerID != ownerID {
			continue
		}
		s.handle(event)
	}
}
