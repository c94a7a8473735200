package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"livetuner/internal/livestream"
)

// Registry tracks the active stream sessions so they can be reported.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	url    string
	stream *livestream.Stream
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

func (r *Registry) add(id, url string, stream *livestream.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = registryEntry{url: url, stream: stream}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// SessionStatus is the JSON shape reported for one active stream session.
type SessionStatus struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Position uint64 `json:"position"`
	Length   uint64 `json:"length"`
}

// Snapshot returns the status of every active session.
func (r *Registry) Snapshot() []SessionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]SessionStatus, 0, len(r.entries))
	for id, entry := range r.entries {
		sessions = append(sessions, SessionStatus{
			ID:       id,
			URL:      entry.url,
			Position: entry.stream.Position(),
			Length:   entry.stream.Length(),
		})
	}
	return sessions
}

// StatusHandler reports active stream sessions as JSON.
type StatusHandler struct {
	registry *Registry
	logger   *logrus.Logger
}

// NewStatusHandler creates a status handler backed by the given registry.
func NewStatusHandler(registry *Registry, logger *logrus.Logger) *StatusHandler {
	return &StatusHandler{registry: registry, logger: logger}
}

// ServeHTTP handles GET /status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := struct {
		Sessions []SessionStatus `json:"sessions"`
	}{Sessions: h.registry.Snapshot()}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithError(err).Error("Failed to encode status response")
	}
}
