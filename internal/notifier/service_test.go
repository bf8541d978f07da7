package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipcore/internal/eventbus"
	"sipcore/internal/scheduler"
	logx "sipcore/pkg/logx"
)

type recorder struct {
	mu   sync.Mutex
	sent []Notification
	fail atomic.Int32 // fail this many sends first
}

func (r *recorder) Send(_ context.Context, n Notification) error {
	if r.fail.Add(-1) >= 0 {
		return errors.New("webhook down")
	}
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Text)
	}
	return out
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func startService(t *testing.T, cfg Config, sender Sender, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	s := startService(t, testConfig(), rec, nil)

	require.NoError(t, s.Notify(context.Background(), Notification{Type: "test", Priority: 9, Text: "disk full"}))
	require.Eventually(t, func() bool { return len(rec.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "🚨 disk full", rec.texts()[0])

	require.Eventually(t, func() bool { return len(s.Snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "test", s.Snapshot()[0].Type)
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	rec.fail.Store(2)
	s := startService(t, testConfig(), rec, nil)

	require.NoError(t, s.Notify(context.Background(), Notification{Type: "test", Text: "x"}))
	require.Eventually(t, func() bool { return len(rec.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNotifyGivesUpAndPublishesFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	rec := &recorder{}
	rec.fail.Store(100)
	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	s := startService(t, cfg, rec, bus)

	n := Notification{Type: "test", Text: "same"}
	require.NoError(t, s.Notify(context.Background(), n))

	deadline := time.After(2 * time.Second)
	for failed := false; !failed; {
		select {
		case e := <-events:
			failed = e.Type == eventbus.NotifierFailed
		case <-deadline:
			t.Fatal("no notifier.failed event")
		}
	}
	assert.Empty(t, rec.texts())

	// A failed key is forgotten so the next occurrence is attempted again.
	rec.fail.Store(0)
	require.NoError(t, s.Notify(context.Background(), n))
	require.Eventually(t, func() bool { return len(rec.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNotifyDedupWindow(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	cfg := testConfig()
	cfg.DedupWindow = time.Hour
	s := startService(t, cfg, rec, nil)

	for range 5 {
		require.NoError(t, s.Notify(context.Background(), Notification{Type: "test", Text: "repeat"}))
	}
	require.NoError(t, s.Notify(context.Background(), Notification{Type: "test", Text: "other"}))

	require.Eventually(t, func() bool { return len(rec.texts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.texts(), 2)
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()
	off := New(Config{}, &recorder{}, logx.Nop(), nil)
	assert.ErrorIs(t, off.Notify(context.Background(), Notification{Text: "x"}), ErrDisabled)

	s := New(testConfig(), &recorder{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrStopped)

	s.Start(context.Background())
	assert.NotNil(t, s.Supervisor())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Nil(t, s.Supervisor())
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{Text: "x"}), ErrStopped)
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	var once sync.Once
	sender := SenderFunc(func(ctx context.Context, n Notification) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	cfg := testConfig()
	cfg.QueueSize = 1
	s := startService(t, cfg, sender, nil)
	t.Cleanup(func() { once.Do(func() { close(block) }) })

	var full bool
	for i := range 10 {
		err := s.Notify(context.Background(), Notification{Type: "test", Text: string(rune('a' + i))})
		if errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
	once.Do(func() { close(block) })
}

func TestForwardsConfiguredBusEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	rec := &recorder{}
	s := startService(t, testConfig(), rec, bus)
	require.NotNil(t, s.Supervisor())

	bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Data: scheduler.RunReport{Job: scheduler.JobProcessing}})
	bus.Publish(eventbus.Event{Type: eventbus.TransactionFailed, Data: eventbus.TransactionEvent{PlanID: "p1", Date: "2024-02-01", Error: "invalid price"}})
	bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: scheduler.RunReport{Job: scheduler.JobRetry, Trigger: "schedule", Error: "db locked", Err: errors.New("db locked")}})

	require.Eventually(t, func() bool { return len(rec.texts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"⚠️ contribution failed: plan p1 on 2024-02-01: invalid price",
		"⚠️ retry job failed (schedule): db locked",
	}, rec.texts())
}

func TestFromEvent(t *testing.T) {
	t.Parallel()
	n, ok := FromEvent(eventbus.Event{Type: eventbus.PlanCompleted, Data: eventbus.PlanEvent{PlanID: "p1", Symbol: "AAPL", Reason: "end_date"}})
	require.True(t, ok)
	assert.Equal(t, "plan p1 (AAPL) completed: end_date", n.Text)
	assert.Equal(t, 5, n.Priority)

	n, ok = FromEvent(eventbus.Event{Type: eventbus.LogAlert, Data: logx.Alert{Level: "error", Message: "quote failed", Fields: map[string]any{"comp": "pricing"}}})
	require.True(t, ok)
	assert.Equal(t, "[ERROR] pricing: quote failed", n.Text)

	_, ok = FromEvent(eventbus.Event{Type: eventbus.JobFailed, Data: scheduler.RunReport{Job: scheduler.JobCleanup}})
	assert.False(t, ok)
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
	assert.GreaterOrEqual(t, retryDelay(cfg, 1), 70*time.Millisecond)
}

func TestWebhookSender(t *testing.T) {
	t.Parallel()
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got.Text == "reject" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhookSender(srv.URL, time.Second)
	require.NoError(t, w.Send(context.Background(), Notification{Type: "t", Priority: 7, Text: "hello"}))
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, 7, got.Priority)

	assert.ErrorContains(t, w.Send(context.Background(), Notification{Text: "reject"}), "502")
}

func TestReconfigureStartsAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recorder{}, logx.Nop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Reconfigure(ctx, testConfig())
	assert.True(t, s.Enabled())
	assert.NotNil(t, s.Supervisor())

	s.Reconfigure(ctx, Config{})
	assert.False(t, s.Enabled())
	assert.Nil(t, s.Supervisor())
}
