// growable byte region with read/write cursors,
// sole I/O staging area for a connection
package buffer

import (
	"golang.org/x/sys/unix"
)

const initialSize = 1024

// Buffer keeps a single contiguous region with two cursors:
// [0, readPos) prependable, [readPos, writePos) readable, [writePos, cap) writable
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

func New() *Buffer {
	return &Buffer{buf: make([]byte, initialSize)}
}

func (b *Buffer) ReadableBytes() int {
	return b.writePos - b.readPos
}

func (b *Buffer) WritableBytes() int {
	return len(b.buf) - b.writePos
}

func (b *Buffer) PrependableBytes() int {
	return b.readPos
}

// Peek returns the unread region; callers must not hold it across a grow
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// BeginWrite returns the writable tail
func (b *Buffer) BeginWrite() []byte {
	return b.buf[b.writePos:]
}

// EnsureWritable grows or compacts so that WritableBytes() >= n
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// HasWritten advances the write cursor after an external fill of BeginWrite
func (b *Buffer) HasWritten(n int) {
	b.writePos += n
}

// Retrieve drops n unread bytes
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	b.readPos += n
}

// RetrieveAll resets both cursors and zeroes the region
func (b *Buffer) RetrieveAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString drains the unread region into an owned string
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writePos:], data)
	b.HasWritten(len(data))
}

func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

func (b *Buffer) AppendBuffer(other *Buffer) {
	b.Append(other.Peek())
}

// makeSpace reallocates when even compaction cannot fit n more bytes,
// otherwise slides unread bytes to offset 0
func (b *Buffer) makeSpace(n int) {
	if b.PrependableBytes()+b.WritableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFd drains fd with one readv into the writable tail plus a 64 KiB
// spill region, so a single call captures a full edge-triggered burst.
// Returns the byte count and the errno-style error from the syscall.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var spill [65536]byte
	writable := b.WritableBytes()

	iov := [2][]byte{b.buf[b.writePos:], spill[:]}
	n, err := unix.Readv(fd, iov[:])
	if n <= 0 {
		return n, err
	}

	if n <= writable {
		b.writePos += n
	} else {
		b.writePos = len(b.buf)
		b.Append(spill[:n-writable])
	}
	return n, nil
}

// WriteTo flushes the unread region to fd with one write
func (b *Buffer) WriteTo(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n <= 0 {
		return n, err
	}
	b.readPos += n
	return n, nil
}
