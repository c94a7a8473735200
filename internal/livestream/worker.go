package livestream

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"livetuner/internal/transport"
)

// worker is the handle of one background transfer. At most one worker exists
// per Stream at any time; its outcome is recorded in err and read by the
// orchestrator only after done is closed, never thrown across the goroutine
// boundary.
type worker struct {
	done      chan struct{} // closed when the transfer goroutine exits
	started   chan struct{} // closed on the first delivered byte or on exit
	startOnce sync.Once
	err       error // transfer outcome; valid once done is closed
}

func (w *worker) markStarted() {
	w.startOnce.Do(func() { close(w.started) })
}

// awaitStart blocks until the transfer delivers its first byte or exits. It
// returns the recorded failure when the worker is already gone; a transfer
// that is still running at this point started successfully.
func (w *worker) awaitStart() error {
	<-w.started
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// spawn launches the transfer goroutine for url, optionally with an open-ended
// byte range, and wires the transport callbacks to the stream state.
func (s *Stream) spawn(url string, rangeStart uint64, hasRange bool) *worker {
	w := &worker{
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}

	log := s.log.WithFields(logrus.Fields{
		"url":       url,
		"range":     rangeStart,
		"has_range": hasRange,
	})

	go func() {
		log.Debug("Transfer worker starting")

		err := s.client.Fetch(url, rangeStart, hasRange, transport.Callbacks{
			OnHeader: s.onHeader,
			OnData: func(chunk []byte) transport.DataVerdict {
				verdict := s.onData(chunk)
				if verdict == transport.DataAccept {
					// Release a starter blocked waiting for the first byte.
					w.markStarted()
				}
				return verdict
			},
			OnControl: s.onControl,
		})

		if err != nil && !errors.Is(err, transport.ErrAborted) {
			w.err = err
			log.WithError(err).Warn("Transfer ended with error")
		} else {
			log.Debug("Transfer finished")
		}

		// Release a blocked starter even on immediate failure, then join.
		w.markStarted()
		close(w.done)
	}()

	return w
}

// onHeader normalizes the stream positions to the server's authoritative
// numbering when the response confirms its starting offset. The starter holds
// the control lock until the worker reports in, so no read races this.
func (s *Stream) onHeader(status int, header http.Header) {
	value := header.Get("Content-Range")
	if value == "" {
		return
	}

	var start uint64
	if _, err := fmt.Sscanf(value, "bytes %d-", &start); err != nil {
		s.log.WithFields(logrus.Fields{
			"status":        status,
			"content_range": value,
		}).Warn("Unparseable Content-Range header ignored")
		return
	}

	s.writeMu.Lock()
	s.startpos, s.readpos, s.writepos = start, start, start
	s.writeMu.Unlock()
}

// onData appends one chunk to the ring buffer. The write is all-or-nothing:
// when the chunk does not fit the producer is paused and the transport offers
// the identical chunk again after resumption.
func (s *Stream) onData(chunk []byte) transport.DataVerdict {
	s.writeMu.Lock()
	if !s.buf.Write(chunk) {
		s.writeMu.Unlock()
		s.paused.Store(true)
		return transport.DataPause
	}

	s.writepos += uint64(len(chunk))
	if s.writepos > s.length.Load() {
		s.length.Store(s.writepos)
	}
	s.writeMu.Unlock()

	return transport.DataAccept
}

// onControl is the transfer's periodic decision point: it observes a pending
// stop request as a hard abort, and proactively resumes a paused transfer so
// the producer retries once the consumer has drained space.
func (s *Stream) onControl() transport.ControlDecision {
	var decision transport.ControlDecision
	if s.stopped.CompareAndSwap(true, false) {
		decision.Abort = true
	}
	if s.paused.CompareAndSwap(true, false) {
		decision.Resume = true
	}
	return decision
}
