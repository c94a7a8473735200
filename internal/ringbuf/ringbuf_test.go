package ringbuf

import (
	"bytes"
	"testing"
	"time"
)

// pattern fills p with a deterministic byte sequence anchored at offset.
func pattern(p []byte, offset int) {
	for i := range p {
		p[i] = byte((offset + i) % 251)
	}
}

func TestCapacityAlignment(t *testing.T) {
	b := New(65536)

	// Requested size plus padding, rounded up to a 64KiB boundary.
	if b.Capacity() != 131072 {
		t.Errorf("Expected capacity 131072, got %d", b.Capacity())
	}

	b = New(1)
	if b.Capacity() != 131072 {
		t.Errorf("Expected capacity 131072 for 1-byte request, got %d", b.Capacity())
	}

	if b.Buffered() != 0 {
		t.Errorf("New buffer should be empty, got %d buffered", b.Buffered())
	}
}

func TestWriteReadChunked(t *testing.T) {
	b := New(65536)

	src := make([]byte, 40000)
	pattern(src, 0)
	if !b.Write(src) {
		t.Fatal("Write of 40000 bytes should succeed")
	}

	got := make([]byte, 0, 40000)
	for _, count := range []int{10000, 20000, 10000} {
		dst := make([]byte, count)
		n, err := b.Read(dst, time.Second)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if n != count {
			t.Fatalf("Expected %d bytes, got %d", count, n)
		}
		got = append(got, dst[:n]...)
	}

	if !bytes.Equal(got, src) {
		t.Error("Read data does not match written data")
	}
	if b.Buffered() != 0 {
		t.Errorf("Buffer should be empty after draining, got %d", b.Buffered())
	}
}

func TestWrapAround(t *testing.T) {
	b := New(65536)

	// Five 50000-byte cycles cross the 131072-byte capacity several times.
	offset := 0
	for cycle := 0; cycle < 5; cycle++ {
		src := make([]byte, 50000)
		pattern(src, offset)
		if !b.Write(src) {
			t.Fatalf("Cycle %d: write should succeed into a drained buffer", cycle)
		}

		dst := make([]byte, 50000)
		total := 0
		for total < len(dst) {
			n, err := b.Read(dst[total:], time.Second)
			if err != nil {
				t.Fatalf("Cycle %d: read failed: %v", cycle, err)
			}
			if n == 0 {
				t.Fatalf("Cycle %d: unexpected timeout with data buffered", cycle)
			}
			total += n
		}

		if !bytes.Equal(dst, src) {
			t.Fatalf("Cycle %d: data corrupted across wrap-around", cycle)
		}
		offset += len(src)
	}
}

func TestWritePauseWhenFull(t *testing.T) {
	b := New(65536) // capacity 131072, usable 65536 after padding

	chunk := make([]byte, 20000)
	pattern(chunk, 0)

	for i := 0; i < 3; i++ {
		if !b.Write(chunk) {
			t.Fatalf("Write %d should fit", i+1)
		}
	}

	// The fourth chunk exceeds the remaining space and must be refused whole.
	if b.Write(chunk) {
		t.Fatal("Fourth write should signal pause")
	}
	if b.Buffered() != 60000 {
		t.Errorf("Refused write must not advance the head, buffered=%d", b.Buffered())
	}

	// Draining one chunk's worth of space makes the same write succeed.
	dst := make([]byte, 20000)
	if n, _ := b.Read(dst, time.Second); n != 20000 {
		t.Fatalf("Expected to drain 20000 bytes, got %d", n)
	}
	if !b.Write(chunk) {
		t.Error("Write should succeed after the consumer drained space")
	}
}

func TestReadTimeout(t *testing.T) {
	b := New(65536)

	start := time.Now()
	n, err := b.Read(make([]byte, 100), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Timeout should not be an error: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 bytes on timeout, got %d", n)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Read returned after %v, before the timeout", elapsed)
	}

	// Data arriving after the timeout is available to the next call.
	b.Write([]byte("late"))
	dst := make([]byte, 4)
	if n, _ := b.Read(dst, time.Second); n != 4 || string(dst) != "late" {
		t.Errorf("Expected %q, got %q (%d bytes)", "late", dst[:n], n)
	}
}

func TestReadBlocksUntilWrite(t *testing.T) {
	b := New(65536)

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Write([]byte("wake"))
	}()

	dst := make([]byte, 4)
	n, err := b.Read(dst, time.Second)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 4 || string(dst) != "wake" {
		t.Errorf("Expected %q, got %q (%d bytes)", "wake", dst[:n], n)
	}
}

func TestReadCountExceedsCapacity(t *testing.T) {
	b := New(65536)

	_, err := b.Read(make([]byte, b.Capacity()+1), 0)
	if err != ErrCountExceedsCapacity {
		t.Errorf("Expected ErrCountExceedsCapacity, got %v", err)
	}
}

func TestSeekBack(t *testing.T) {
	b := New(65536)

	src := make([]byte, 1000)
	pattern(src, 0)
	b.Write(src)

	// Skip past everything, then rewind to the last 300 bytes.
	if n, _ := b.Read(make([]byte, 1000), time.Second); n != 1000 {
		t.Fatalf("Expected to read 1000 bytes, got %d", n)
	}
	b.SeekBack(300)

	dst := make([]byte, 300)
	n, err := b.Read(dst, time.Second)
	if err != nil || n != 300 {
		t.Fatalf("Read after SeekBack returned %d, %v", n, err)
	}
	if !bytes.Equal(dst, src[700:]) {
		t.Error("SeekBack did not land on the expected bytes")
	}
}

func TestSeekBackToHead(t *testing.T) {
	b := New(65536)
	b.Write(make([]byte, 500))

	// Rewinding zero bytes parks the tail on the head: logically empty.
	b.SeekBack(0)
	if b.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d", b.Buffered())
	}
	if n, _ := b.Read(make([]byte, 10), 10*time.Millisecond); n != 0 {
		t.Errorf("Expected timeout read, got %d bytes", n)
	}
}

func TestReset(t *testing.T) {
	b := New(65536)
	b.Write(make([]byte, 12345))
	b.Reset()

	if b.Buffered() != 0 {
		t.Errorf("Reset buffer should be empty, got %d", b.Buffered())
	}
	if n, _ := b.Read(make([]byte, 10), 10*time.Millisecond); n != 0 {
		t.Errorf("Expected timeout read after reset, got %d bytes", n)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	b := New(65536)
	const total = 500000

	go func() {
		offset := 0
		chunk := make([]byte, 16384)
		for offset < total {
			size := min(len(chunk), total-offset)
			pattern(chunk[:size], offset)
			if !b.Write(chunk[:size]) {
				time.Sleep(time.Millisecond) // paused, wait for the consumer
				continue
			}
			offset += size
		}
	}()

	got := make([]byte, 0, total)
	dst := make([]byte, 8192)
	for len(got) < total {
		n, err := b.Read(dst, time.Second)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if n == 0 {
			t.Fatal("Consumer starved with producer active")
		}
		got = append(got, dst[:n]...)
	}

	want := make([]byte, total)
	pattern(want, 0)
	if !bytes.Equal(got, want) {
		t.Error("Concurrent transfer corrupted data")
	}
}
