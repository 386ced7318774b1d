// Package alert sends training lifecycle notifications.
package alert

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending alert messages.
type Notifier interface {
	Send(message string) error
	Close() error
}

// NoOpNotifier is a notifier that does nothing. It is used when alerting is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) Send(message string) error { return nil }
func (n *NoOpNotifier) Close() error              { return nil }

// Sink delivers one combined report.
type Sink interface {
	Deliver(content string) error
}

// LogSink writes reports to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs content at info level.
func (s *LogSink) Deliver(content string) error {
	s.logger.Info("alert", zap.String("report", content))
	return nil
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("notifier is closed")

// BufferedNotifier collects messages and delivers them to a Sink as one
// report per interval. Close flushes whatever is pending.
type BufferedNotifier struct {
	sink           Sink
	logger         *zap.Logger
	bufferInterval time.Duration

	mu     sync.Mutex
	buffer []string
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBufferedNotifier starts a notifier flushing to sink every interval.
// A non-positive interval means one minute.
func NewBufferedNotifier(sink Sink, interval time.Duration, logger *zap.Logger) (*BufferedNotifier, error) {
	if sink == nil {
		return nil, errors.New("alert sink must be configured")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &BufferedNotifier{
		sink:           sink,
		logger:         logger,
		bufferInterval: interval,
		done:           make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n, nil
}

// Send queues message for the next report.
func (n *BufferedNotifier) Send(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.buffer = append(n.buffer, fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), message))
	return nil
}

func (n *BufferedNotifier) run() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.bufferInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.flush()
		case <-n.done:
			n.flush()
			return
		}
	}
}

func (n *BufferedNotifier) flush() {
	n.mu.Lock()
	pending := n.buffer
	n.buffer = nil
	n.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	content := fmt.Sprintf("--- Training Report (%d messages) ---\n%s", len(pending), strings.Join(pending, "\n"))
	if err := n.sink.Deliver(content); err != nil {
		n.logger.Error("failed to deliver alert report", zap.Int("messages", len(pending)), zap.Error(err))
	}
}

// Close flushes pending messages and stops the notifier. Repeated calls are no-ops.
func (n *BufferedNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
	return nil
}
