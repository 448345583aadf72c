package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sasha-s/go-deadlock"

	"kernsched/pkg/process"
)

// Pipe errors.
var (
	ErrPipeClosed = errors.New("pipe is closed")
	ErrWouldBlock = errors.New("operation would block")
	ErrBrokenPipe = errors.New("pipe is broken")
)

// DefaultCapacity is the buffer size of a pipe created with capacity 0.
const DefaultCapacity = 64 * 1024

// Pipe is a one-way byte stream between two processes. Each end holds one
// open handle of its owner. A reader that finds the pipe empty is Blocked in
// the scheduler until data arrives or the write end is closed.
type Pipe struct {
	m      *process.Manager
	reader process.PID
	writer process.PID

	mu           deadlock.Mutex
	buf          bytes.Buffer
	capacity     int
	readClosed   bool
	writeClosed  bool
	notify       chan struct{}
	bytesWritten uint64
}

// NewPipe opens a pipe from writer to reader. Both ends are charged against
// the owners' handle limits.
func NewPipe(m *process.Manager, reader, writer process.PID, capacity int) (*Pipe, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if _, err := m.OpenHandle(reader); err != nil {
		return nil, fmt.Errorf("open read end: %w", err)
	}
	if _, err := m.OpenHandle(writer); err != nil {
		_ = m.CloseHandle(reader)
		return nil, fmt.Errorf("open write end: %w", err)
	}
	return &Pipe{
		m:        m,
		reader:   reader,
		writer:   writer,
		capacity: capacity,
		notify:   make(chan struct{}),
	}, nil
}

// Reader returns the PID owning the read end.
func (p *Pipe) Reader() process.PID { return p.reader }

// Writer returns the PID owning the write end.
func (p *Pipe) Writer() process.PID { return p.writer }

// Buffered returns the number of unread bytes.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// BytesWritten returns the total number of bytes accepted by Write.
func (p *Pipe) BytesWritten() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesWritten
}

// signal wakes goroutines waiting in Read. Caller holds mu.
func (p *Pipe) signal() {
	close(p.notify)
	p.notify = make(chan struct{})
}

// Read reads buffered data into b. When the pipe is empty the reader is
// Blocked until a write, a close of the write end, or ctx is done. It
// returns io.EOF once the write end is closed and the buffer is drained.
func (p *Pipe) Read(ctx context.Context, b []byte) (int, error) {
	for {
		p.mu.Lock()
		switch {
		case p.readClosed:
			p.mu.Unlock()
			return 0, ErrPipeClosed
		case p.buf.Len() > 0:
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		case p.writeClosed:
			p.mu.Unlock()
			return 0, io.EOF
		}
		notify := p.notify
		p.mu.Unlock()

		if err := p.m.Block(p.reader); err != nil {
			return 0, err
		}
		select {
		case <-notify:
		case <-ctx.Done():
			_ = p.m.Wake(p.reader)
			return 0, ctx.Err()
		}
		// A write may land between the unlock and Block, so the reader
		// wakes itself as well.
		if err := p.m.Wake(p.reader); err != nil {
			return 0, err
		}
	}
}

// Write appends b to the pipe and wakes the reader. Writes never block: a
// write that does not fit the remaining capacity fails with ErrWouldBlock.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	switch {
	case p.writeClosed:
		p.mu.Unlock()
		return 0, ErrPipeClosed
	case p.readClosed:
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	case p.buf.Len()+len(b) > p.capacity:
		p.mu.Unlock()
		return 0, ErrWouldBlock
	}
	p.buf.Write(b)
	p.bytesWritten += uint64(len(b))
	p.signal()
	p.mu.Unlock()

	p.wakeReader()
	return len(b), nil
}

// wakeReader makes a Blocked reader Ready. A reader that has exited has
// nothing to wake.
func (p *Pipe) wakeReader() {
	_ = p.m.Wake(p.reader)
}

// CloseRead closes the read end. Later writes fail with ErrBrokenPipe.
func (p *Pipe) CloseRead() error {
	p.mu.Lock()
	if p.readClosed {
		p.mu.Unlock()
		return nil
	}
	p.readClosed = true
	p.buf.Reset()
	p.signal()
	p.mu.Unlock()
	return release(p.m, p.reader)
}

// CloseWrite closes the write end. The reader drains the buffer and then
// sees io.EOF.
func (p *Pipe) CloseWrite() error {
	p.mu.Lock()
	if p.writeClosed {
		p.mu.Unlock()
		return nil
	}
	p.writeClosed = true
	p.signal()
	p.mu.Unlock()

	p.wakeReader()
	return release(p.m, p.writer)
}

// Close closes both ends.
func (p *Pipe) Close() error {
	return errors.Join(p.CloseWrite(), p.CloseRead())
}

// release returns a handle to its owner. Exit already released every
// handle of a process that is gone.
func release(m *process.Manager, pid process.PID) error {
	if err := m.CloseHandle(pid); err != nil && !gone(err) {
		return err
	}
	return nil
}

func gone(err error) bool {
	return errors.Is(err, process.ErrProcessNotFound) || errors.Is(err, process.ErrInvalidState)
}
