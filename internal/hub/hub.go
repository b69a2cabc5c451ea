package hub

import (
	"danawa-tracker/internal/telemetry"
	"fmt"
	"sync"
)

const report_hub_observer = "hub.observer"

// Registration identifies one registered observer.
type Registration struct {
	fn func()
}

// Hub fans a single "new value available" event out to every registered observer.
type Hub struct {
	tel telemetry.API

	mu        sync.RWMutex
	observers map[*Registration]struct{}
}

func New(tel telemetry.API) *Hub {
	return &Hub{
		tel:       tel,
		observers: make(map[*Registration]struct{}),
	}
}

func (h *Hub) Register(fn func()) *Registration {
	reg := &Registration{fn: fn}
	h.mu.Lock()
	h.observers[reg] = struct{}{}
	h.mu.Unlock()
	return reg
}

// Unregister removes an observer, unknown or nil registrations are ignored.
func (h *Hub) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	h.mu.Lock()
	delete(h.observers, reg)
	h.mu.Unlock()
}

// NotifyAll calls every observer registered at the moment of the call. No lock is held
// while observers run, so they may register or unregister freely.
func (h *Hub) NotifyAll() {
	h.mu.RLock()
	snapshot := make([]*Registration, 0, len(h.observers))
	for reg := range h.observers {
		snapshot = append(snapshot, reg)
	}
	h.mu.RUnlock()

	for _, reg := range snapshot {
		h.call(reg)
	}
}

func (h *Hub) call(reg *Registration) {
	defer func() {
		if r := recover(); r != nil {
			h.tel.ReportBroken(report_hub_observer, fmt.Errorf("observer panicked: %v", r))
		}
	}()
	reg.fn()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Clear drops every registration.
func (h *Hub) Clear() {
	h.mu.Lock()
	h.observers = make(map[*Registration]struct{})
	h.mu.Unlock()
}
