package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"bizledger/internal/models"
)

// Observer is notified about subscriber churn and delivery outcomes.
type Observer interface {
	SubscriberAdded()
	SubscriberRemoved()
	EventSent(table string, delivered bool)
}

// Relay carries events between server instances. Events published through it
// come back to every hub via Deliver.
type Relay interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

type nopObserver struct{}

func (nopObserver) SubscriberAdded()        {}
func (nopObserver) SubscriberRemoved()      {}
func (nopObserver) EventSent(string, bool) {}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	relay    Relay
	observer Observer
}

type HubOption func(*Hub)

func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

func WithObserver(o Observer) HubOption {
	return func(h *Hub) {
		if o != nil {
			h.observer = o
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Register(ownerID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ownerID] == nil {
		h.clients[ownerID] = make(map[*Client]struct{})
	}
	if _, ok := h.clients[ownerID][client]; ok {
		return
	}
	h.clients[ownerID][client] = struct{}{}
	h.observer.SubscriberAdded()
}

func (h *Hub) Unregister(ownerID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[ownerID] == nil {
		return
	}
	if _, ok := h.clients[ownerID][client]; !ok {
		return
	}
	delete(h.clients[ownerID], client)
	if len(h.clients[ownerID]) == 0 {
		delete(h.clients, ownerID)
	}
	h.observer.SubscriberRemoved()
}

// Subscribers returns the number of open connections for an owner.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

// Publish fans an event out to every instance when a relay is configured,
// and to this instance's subscribers otherwise. A relay failure falls back
// to local delivery so the publishing instance's clients still hear it.
func (h *Hub) Publish(ctx context.Context, event models.ChangeEvent) {
	if h.relay != nil {
		err := h.relay.Publish(ctx, event)
		if err == nil {
			return
		}
		slog.Warn("change relay publish failed", "owner_id", event.OwnerID, "table", event.Table, "error", err)
	}
	h.Broadcast(event)
}

// Broadcast delivers an event to the owner's local subscribers. A subscriber
// whose buffer is full is disconnected instead of silently missing the event;
// it resyncs when it reconnects.
func (h *Hub) Broadcast(event models.ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal change event", "error", err)
		return
	}
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients[event.OwnerID] {
		select {
		case client.send <- payload:
			h.observer.EventSent(event.Table, true)
		default:
			h.observer.EventSent(event.Table, false)
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		slog.Warn("disconnecting slow change subscriber", "owner_id", event.OwnerID)
		client.close(h, event.OwnerID)
	}
}
