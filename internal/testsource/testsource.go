// Package testsource serves a deterministic, rate-limited, endless byte
// stream over HTTP so the tuner proxy can be exercised without a real
// upstream. The handler honors open-ended byte-range requests and confirms
// the granted offset with a Content-Range header, which makes it a faithful
// stand-in for a live-stream origin in tests and demos.
package testsource

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultChunkSize = 16 * 1024

// Fill writes the deterministic stream pattern into p as it appears at the
// given absolute stream offset. Consumers can verify any slice of the stream
// against the offset it was read from.
func Fill(p []byte, offset uint64) {
	for i := range p {
		p[i] = byte((offset + uint64(i)) % 251)
	}
}

// Handler streams the pattern at a bounded byte rate.
type Handler struct {
	limiter *rate.Limiter
	chunk   int
	log     *logrus.Logger
}

// New creates a handler emitting bytesPerSecond. A zero or negative rate
// streams unthrottled.
func New(bytesPerSecond int, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var limiter *rate.Limiter
	if bytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), max(bytesPerSecond, defaultChunkSize))
	}

	return &Handler{
		limiter: limiter,
		chunk:   defaultChunkSize,
		log:     logger,
	}
}

// ServeHTTP streams the pattern until the client disconnects. A request with
// "Range: bytes=N-" starts the pattern at offset N and answers 206 with
// "Content-Range: bytes N-".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	offset := uint64(0)
	status := http.StatusOK

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		var start uint64
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start); err == nil {
			offset = start
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-", start))
			status = http.StatusPartialContent
		}
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, h.chunk)

	h.log.WithFields(logrus.Fields{
		"remote": r.RemoteAddr,
		"offset": offset,
	}).Debug("Test source streaming")

	for {
		if h.limiter != nil {
			if err := h.limiter.WaitN(r.Context(), len(buf)); err != nil {
				return // client gone
			}
		} else if err := r.Context().Err(); err != nil {
			return
		}

		Fill(buf, offset)
		if _, err := w.Write(buf); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		offset += uint64(len(buf))
	}
}
