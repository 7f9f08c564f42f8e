package notify

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// DefaultTimeout bounds one asynchronous delivery.
const DefaultTimeout = 10 * time.Second

// Async makes any Dispatcher fire-and-forget: NotifyExcept returns at once
// and delivery runs in its own goroutine, detached from the caller's
// context so a finished request does not cancel it.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.RealtimeMetrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps next so callers never wait on delivery. Each dispatch
// runs in its own goroutine bounded by timeout.
func NewAsync(next Dispatcher, timeout time.Duration, logger *logging.Logger, m *metrics.RealtimeMetrics) *Async {
	if next == nil {
		panic("notify: dispatcher required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Async{next: next, timeout: timeout, logger: logger, metrics: m}
}

func (a *Async) NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.metrics.ObserveNotification("dropped")
		return nil
	}
	a.wg.Add(1)
	a.mu.Unlock()

	base := context.WithoutCancel(ctx)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(base, a.timeout)
		defer cancel()
		if err := a.next.NotifyExcept(ctx, senderID, title, body, locationKey); err != nil {
			a.metrics.ObserveNotification("failed")
			a.logger.Warn("notify: delivery failed", "sender_id", senderID, "location", locationKey, "error", err)
			return
		}
		a.metrics.ObserveNotification("sent")
	}()
	return nil
}

// Close stops accepting work and waits for in-flight deliveries.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}
