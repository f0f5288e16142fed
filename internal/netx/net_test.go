package netx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/notesync/internal/logging"
)

func TestHTTPChecker_Online(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c := NewHTTPChecker(ts.URL, time.Second)
	// an error status still proves the endpoint is reachable
	assert.True(t, c.Online(context.Background()))
}

func TestHTTPChecker_Offline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	c := NewHTTPChecker(ts.URL, 200*time.Millisecond)
	assert.False(t, c.Online(context.Background()))
}

type flipChecker struct {
	online atomic.Bool
}

func (f *flipChecker) Online(ctx context.Context) bool { return f.online.Load() }

func TestWatcher_FiresOnReconnect(t *testing.T) {
	checker := &flipChecker{}

	var fired atomic.Int32
	w := NewWatcher(checker, 10*time.Millisecond, func() { fired.Add(1) }, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	defer w.Stop()

	// let the watcher observe the offline state first
	assert.Eventually(t, func() bool { return !w.Online() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	checker.online.Store(true)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, w.Online())
}
