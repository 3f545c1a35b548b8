package bridge

import (
	"bytes"
	"strings"
	"sync"

	"github.com/Avis2912/magnus/internal/logging"
	"github.com/Avis2912/magnus/internal/task"
)

// Listener is attached to one task. It receives routed log records as a
// logging.Sink and raw process output as an io.Writer, and records both in
// arrival order from a single worker goroutine.
type Listener struct {
	bridge *Bridge
	taskID string
	handle logging.Handle

	mu     sync.Mutex
	queue  []logging.Record
	closed bool
	signal chan struct{}
	done   chan struct{}

	writeMu sync.Mutex
	partial []byte

	counter int
	once    sync.Once
}

func newListener(b *Bridge, taskID string) *Listener {
	l := &Listener{
		bridge: b,
		taskID: taskID,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Listener) TaskID() string {
	return l.taskID
}

// Deliver queues a routed record. It never blocks.
func (l *Listener) Deliver(rec logging.Record) {
	l.enqueue(rec)
}

// Write buffers raw output and forwards every complete, non-blank line.
// Output written after Detach is dropped.
func (l *Listener) Write(p []byte) (int, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.enqueueLine(string(l.partial[:i]))
		l.partial = l.partial[i+1:]
	}
	if len(l.partial) == 0 {
		l.partial = nil
	}
	return len(p), nil
}

func (l *Listener) flush() {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if len(l.partial) > 0 {
		l.enqueueLine(string(l.partial))
		l.partial = nil
	}
}

func (l *Listener) enqueueLine(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	l.enqueue(logging.Record{TaskID: l.taskID, Line: line})
}

func (l *Listener) enqueue(rec logging.Record) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, rec)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// stop closes the queue and waits for the worker to record what is left.
func (l *Listener) stop() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Listener) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, rec := range batch {
			l.bridge.record(l, rec)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.signal
	}
}

// nextSeq is only called from the worker.
func (l *Listener) nextSeq() int {
	l.counter++
	return task.InterceptedBase + l.counter
}
