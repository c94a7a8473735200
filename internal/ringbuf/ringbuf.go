// Package ringbuf provides the bounded circular byte buffer backing a live stream.
package ringbuf

import (
	"errors"
	"sync/atomic"
	"time"
)

const (
	// alignment is the boundary the allocated capacity is rounded up to.
	alignment = 64 * 1024

	// WritePadding is free space reserved on every write so the buffer can
	// never become completely full; head == tail therefore always means empty.
	// It must be at least as large as the biggest chunk a producer offers.
	WritePadding = 64 * 1024
)

// ErrCountExceedsCapacity is returned when a read asks for more bytes than the
// buffer could ever hold.
var ErrCountExceedsCapacity = errors.New("read count exceeds buffer capacity")

// Buffer is a fixed-capacity circular byte store for a single producer and a
// single consumer. The producer owns the head cursor and the consumer owns the
// tail cursor; each side reads the opposite cursor atomically, so a consumer
// that observes a new head also observes the bytes published below it.
// Serialization of multiple producers or consumers is the caller's job.
type Buffer struct {
	data []byte
	size uint64

	head atomic.Uint64 // next write offset, advanced only by the producer
	tail atomic.Uint64 // next read offset, advanced only by the consumer

	notify chan struct{} // signaled after the head advances
}

// New creates a buffer holding at least size bytes. The allocated capacity is
// size plus WritePadding, rounded up to a 64KiB boundary.
func New(size int) *Buffer {
	capacity := alignUp(uint64(size)+WritePadding, alignment)
	return &Buffer{
		data:   make([]byte, capacity),
		size:   capacity,
		notify: make(chan struct{}, 1),
	}
}

// alignUp rounds value up to a multiple of boundary.
func alignUp(value, boundary uint64) uint64 {
	if value == 0 {
		return 0
	}
	return value + (boundary-value%boundary)%boundary
}

// Capacity returns the allocated capacity in bytes, padding included.
func (b *Buffer) Capacity() int {
	return int(b.size)
}

// Buffered returns the number of bytes currently available to read.
func (b *Buffer) Buffered() int {
	head := b.head.Load()
	tail := b.tail.Load()
	return int((head + b.size - tail) % b.size)
}

// Write copies all of p into the buffer and returns true, or copies nothing
// and returns false when p plus the write padding does not fit. A false
// return is the flow-control signal: the producer must suspend delivery until
// the consumer drains space, then offer the same chunk again. Partial writes
// are never reported as success.
func (b *Buffer) Write(p []byte) bool {
	head := b.head.Load()
	tail := b.tail.Load()

	// Free space computed against the cursors as they stand right now; the
	// consumer can only grow it concurrently, never shrink it.
	var free uint64
	if head < tail {
		free = tail - head
	} else {
		free = (b.size - head) + tail
	}
	if free < uint64(len(p))+WritePadding {
		return false
	}

	for len(p) > 0 {
		// Copy up to the tail if the head is linearly behind it, otherwise
		// up to the end of the buffer before wrapping back to zero.
		var chunk int
		if head < tail {
			chunk = min(len(p), int(tail-head))
		} else {
			chunk = min(len(p), int(b.size-head))
		}
		copy(b.data[head:head+uint64(chunk)], p[:chunk])
		p = p[chunk:]

		head += uint64(chunk)
		if head >= b.size {
			head = 0
		}
	}

	// Publish the new head only after the bytes below it are in place, then
	// wake a blocked reader.
	b.head.Store(head)
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Read copies up to len(p) bytes from the buffer into p, blocking until data
// is available or the timeout elapses. A zero count with a nil error means
// the wait timed out. Read never returns bytes beyond the head observed when
// the wait completed, even if the producer appends more mid-copy.
func (b *Buffer) Read(p []byte, timeout time.Duration) (int, error) {
	if len(p) > int(b.size) {
		return 0, ErrCountExceedsCapacity
	}
	if len(p) == 0 {
		return 0, nil
	}

	head, ok := b.waitForData(timeout)
	if !ok {
		return 0, nil
	}

	tail := b.tail.Load()
	read := 0
	count := len(p)
	for count > 0 {
		var chunk int
		if tail < head {
			chunk = min(count, int(head-tail))
		} else {
			chunk = min(count, int(b.size-tail))
		}
		copy(p[read:read+chunk], b.data[tail:tail+uint64(chunk)])

		tail += uint64(chunk)
		read += chunk
		count -= chunk

		if tail >= b.size {
			tail = 0
		}
		if tail == head {
			break // drained everything the producer had published
		}
	}

	b.tail.Store(tail)
	return read, nil
}

// waitForData blocks until the buffer is non-empty or the timeout elapses and
// returns the observed head position.
func (b *Buffer) waitForData(timeout time.Duration) (uint64, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		head := b.head.Load()
		if head != b.tail.Load() {
			return head, true
		}
		select {
		case <-b.notify:
		case <-deadline.C:
			return 0, false
		}
	}
}

// SeekBack moves the read cursor to the byte written distance bytes before the
// current head, wrapping around capacity. distance must not exceed the
// capacity, and the caller must hold off the producer for the duration of the
// call so the head cannot move underneath the computation.
func (b *Buffer) SeekBack(distance uint64) {
	head := b.head.Load()
	b.tail.Store((head + b.size - distance) % b.size)
}

// Reset returns the buffer to the empty state. The caller must guarantee that
// neither the producer nor the consumer is active.
func (b *Buffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
	select {
	case <-b.notify:
	default:
	}
}
