package plugin

import (
	"time"

	"github.com/google/uuid"
)

// EventType labels a lifecycle event.
type EventType string

const (
	EventInstall    EventType = "install"
	EventActivate   EventType = "activate"
	EventDeactivate EventType = "deactivate"
	EventUninstall  EventType = "uninstall"
	EventError      EventType = "error"
)

// Event describes one lifecycle transition.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	PluginID string    `json:"plugin_id"`
	TenantID string    `json:"tenant_id"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Subscribe registers a callback invoked for every lifecycle event.
// Callbacks run on their own goroutine and can never block or fail an
// operation. Must be called before the manager starts serving.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Manager) emit(typ EventType, pluginID, tenantID string, opErr error) {
	m.mu.RLock()
	subs := make([]func(Event), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	ev := Event{
		ID:       uuid.NewString(),
		Type:     typ,
		PluginID: pluginID,
		TenantID: tenantID,
		Time:     time.Now().UTC(),
	}
	if opErr != nil {
		ev.Error = opErr.Error()
	}

	go func() {
		for _, fn := range subs {
			fn(ev)
		}
	}()
}
