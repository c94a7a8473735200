// Package livestream decouples a rate-variable upstream HTTP live stream from
// a consumer reading at its own pace. A background transfer worker fills a
// bounded ring buffer while the consumer reads, seeks and tracks positions;
// seeks are served from buffered data when possible and restart the transfer
// with a new byte range otherwise.
package livestream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"livetuner/internal/ringbuf"
	"livetuner/internal/transport"
)

var (
	// ErrTransferActive is returned by Start while a transfer is running.
	ErrTransferActive = errors.New("data transfer is already active")
	// ErrTransferInactive is returned by Seek when no transfer is running.
	ErrTransferInactive = errors.New("data transfer is not active")
	// ErrNilBuffer is returned by Read when the destination buffer is nil.
	ErrNilBuffer = errors.New("nil destination buffer")
)

// Stream is the public orchestrator of one buffered live stream. All control
// operations (Start, Stop, Seek) and consumer operations (Read, Position) are
// serialized against each other by a coarse lock; the transfer worker touches
// only the ring buffer and the producer-side positions under its own finer
// lock, so chunk delivery never contends with the control path.
type Stream struct {
	mu sync.Mutex // serializes Start/Stop/Seek/Read/Position

	// writeMu keeps buffer head movement coherent with writepos so Seek can
	// compute the buffered window against a frozen producer state.
	writeMu sync.Mutex

	buf    *ringbuf.Buffer
	client *transport.Client
	log    *logrus.Logger

	worker *worker // nil when no transfer is active
	url    string  // upstream URL of the active transfer

	startpos uint64 // server-reported first byte of the current transfer
	readpos  uint64 // next byte the consumer will read
	writepos uint64 // next byte the producer will write

	length  atomic.Uint64 // high-water mark of bytes ever seen
	paused  atomic.Bool   // producer throttled awaiting consumer drain
	stopped atomic.Bool   // cancellation requested
}

// New creates a stream backed by a buffer of at least bufferSize bytes.
func New(bufferSize int, tc transport.Config, logger *logrus.Logger) *Stream {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	// The buffer's write padding must cover the largest single chunk the
	// transport can offer, or a full buffer could never distinguish itself
	// from an empty one.
	if tc.ChunkSize > ringbuf.WritePadding {
		tc.ChunkSize = ringbuf.WritePadding
	}

	return &Stream{
		buf:    ringbuf.New(bufferSize),
		client: transport.NewClient(tc, logger),
		log:    logger,
	}
}

// Start opens the upstream URL and blocks until the transfer delivers its
// first byte or fails. It returns the effective starting position, which is
// taken from the server's Content-Range header when present.
func (s *Stream) Start(url string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil {
		return 0, ErrTransferActive
	}

	w := s.spawn(url, 0, false)
	if err := w.awaitStart(); err != nil {
		s.resetStreamState()
		return 0, fmt.Errorf("failed to start transfer for %s: %w", url, err)
	}

	s.worker = w
	s.url = url
	return s.readpos, nil
}

// Stop cancels the active transfer, waits for the worker to exit and resets
// the stream state including the length high-water mark. It returns the final
// read position, or zero when no transfer was active (stopping twice is fine).
func (s *Stream) Stop() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == nil {
		return 0
	}

	s.stopped.Store(true)
	<-s.worker.done
	s.worker = nil
	s.url = ""

	position := s.readpos
	s.resetStreamState()
	s.length.Store(0)

	return position
}

// Read copies up to len(p) bytes of buffered stream data into p, waiting up
// to timeout for data to arrive. A zero count with a nil error means the wait
// timed out, which is not a failure.
func (s *Stream) Read(p []byte, timeout time.Duration) (int, error) {
	if p == nil {
		return 0, ErrNilBuffer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.buf.Read(p, timeout)
	if err != nil {
		return 0, err
	}
	s.readpos += uint64(n)
	return n, nil
}

// Seek repositions the stream to position. When the requested position is
// still represented in the ring buffer the read cursor is moved with no
// network activity; otherwise the transfer is stopped and reissued with a
// byte range starting at position. The returned position may differ from the
// request if the server normalizes it.
func (s *Stream) Seek(position uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if position == s.readpos {
		return position, nil
	}
	if s.worker == nil {
		return 0, ErrTransferInactive
	}

	// Freeze the producer while deciding whether the buffer already holds
	// the requested position.
	s.writeMu.Lock()
	capacity := uint64(s.buf.Capacity())
	minpos := s.startpos
	if s.writepos-s.startpos > capacity {
		minpos = s.writepos - capacity
	}
	if position >= minpos && position <= s.writepos {
		s.buf.SeekBack(s.writepos - position)
		s.readpos = position
		s.writeMu.Unlock()
		return position, nil
	}
	s.writeMu.Unlock()

	// Outside the buffered window: stop the transfer and restart it at the
	// requested offset. The old and new transfers never overlap.
	s.stopped.Store(true)
	<-s.worker.done
	s.worker = nil
	s.resetStreamState()

	w := s.spawn(s.url, position, true)
	if err := w.awaitStart(); err != nil {
		s.url = ""
		s.resetStreamState()
		return 0, fmt.Errorf("failed to restart transfer at position %d: %w", position, err)
	}

	s.worker = w
	return s.readpos, nil
}

// Position returns the stream position of the next read.
func (s *Stream) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readpos
}

// Length returns the largest stream position observed so far. It never
// decreases while a transfer is active and resets only on Stop.
func (s *Stream) Length() uint64 {
	return s.length.Load()
}

// Capacity returns the ring buffer capacity in bytes.
func (s *Stream) Capacity() int {
	return s.buf.Capacity()
}

// Finished reports whether the transfer has ended and every buffered byte has
// been consumed. A mid-stream upstream failure after startup surfaces this
// way rather than as an error: the stream simply stops growing.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == nil {
		return true
	}
	select {
	case <-s.worker.done:
	default:
		return false
	}
	// The worker has exited, so writepos is stable.
	return s.readpos >= s.writepos
}

// resetStreamState returns positions, flags and the buffer to their initial
// state. The length high-water mark is deliberately left alone; only Stop
// clears it. The caller must hold mu and must have joined the worker first.
func (s *Stream) resetStreamState() {
	s.paused.Store(false)
	s.stopped.Store(false)
	s.startpos, s.readpos, s.writepos = 0, 0, 0
	s.buf.Reset()
}
