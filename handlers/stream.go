// Package handlers contains the HTTP request handlers of the tuner proxy.
package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"livetuner/config"
	"livetuner/internal/livestream"
)

// StreamHandler relays a buffered upstream live stream to the client. Each
// request gets its own stream session: a dedicated ring buffer and transfer
// worker torn down when the client disconnects.
type StreamHandler struct {
	cfg      *config.Config
	registry *Registry
	logger   *logrus.Logger
}

// NewStreamHandler creates a stream relay handler.
func NewStreamHandler(cfg *config.Config, registry *Registry, logger *logrus.Logger) *StreamHandler {
	return &StreamHandler{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// ServeHTTP handles GET /stream/{target}. The target is the upstream URL,
// either raw or percent-encoded. A "Range: bytes=N-" request header is mapped
// onto a stream seek before relaying begins.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	if target == "" {
		http.Error(w, "Missing stream URL", http.StatusBadRequest)
		return
	}

	if !strings.Contains(target, "://") {
		decoded, err := url.QueryUnescape(target)
		if err != nil {
			http.Error(w, "Invalid encoded URL", http.StatusBadRequest)
			return
		}
		target = decoded
	}

	session := uuid.New().String()
	log := h.logger.WithFields(logrus.Fields{
		"session": session,
		"url":     target,
		"remote":  r.RemoteAddr,
	})

	stream := livestream.New(h.cfg.BufferBytes(), h.cfg.TransportConfig(), h.logger)

	position, err := stream.Start(target)
	if err != nil {
		log.WithError(err).Error("Failed to start upstream transfer")
		http.Error(w, "upstream transfer failed", http.StatusBadGateway)
		return
	}
	defer stream.Stop()

	h.registry.add(session, target, stream)
	defer h.registry.remove(session)

	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, ok := parseRangeStart(rangeHeader)
		if !ok {
			http.Error(w, "Unsupported range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		position, err = stream.Seek(start)
		if err != nil {
			log.WithError(err).Error("Failed to seek upstream transfer")
			http.Error(w, "upstream seek failed", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-", position))
		status = http.StatusPartialContent
	}

	log.WithField("position", position).Info("Relaying stream")

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-r.Context().Done():
			log.Debug("Client disconnected")
			return
		default:
		}

		n, err := stream.Read(buf, h.cfg.ReadTimeout)
		if err != nil {
			log.WithError(err).Error("Stream read failed")
			return
		}
		if n == 0 {
			if stream.Finished() {
				log.Info("Upstream transfer ended")
				return
			}
			continue // soft timeout, keep waiting
		}

		if _, err := w.Write(buf[:n]); err != nil {
			log.WithError(err).Debug("Client write failed")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// parseRangeStart extracts the starting offset of an open-ended byte range
// request header.
func parseRangeStart(header string) (uint64, bool) {
	var start uint64
	if _, err := fmt.Sscanf(header, "bytes=%d-", &start); err != nil {
		return 0, false
	}
	return start, true
}
