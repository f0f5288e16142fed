// Package netx probes network reachability so sync is attempted only
// when the remote endpoint looks reachable.
package netx

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Checker reports whether the remote endpoint is currently reachable.
type Checker interface {
	Online(ctx context.Context) bool
}

// HTTPChecker issues a HEAD request against the endpoint. Any response,
// including an error status, counts as reachable; only transport
// failures count as offline.
type HTTPChecker struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPChecker(endpoint string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Watcher polls a Checker and invokes OnOnline each time connectivity
// comes back after an offline stretch.
type Watcher struct {
	checker  Checker
	interval time.Duration
	onOnline func()
	logger   logging.Logger

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatcher(checker Checker, interval time.Duration, onOnline func(), logger logging.Logger) *Watcher {
	return &Watcher{
		checker:  checker,
		interval: interval,
		onOnline: onOnline,
		logger:   logger,
		online:   true,
	}
}

// Online returns the last observed state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Start begins polling until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	online := w.checker.Online(ctx)

	w.mu.Lock()
	wasOnline := w.online
	w.online = online
	w.mu.Unlock()

	if online && !wasOnline {
		w.logger.Info(ctx, "connectivity restored")
		if w.onOnline != nil {
			w.onOnline()
		}
	}
	if !online && wasOnline {
		w.logger.Info(ctx, "connectivity lost")
	}
}
