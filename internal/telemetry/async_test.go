package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []Event
	ctxErrs []error
	emitErr error
	done    chan struct{}
}

func newMockEmitter(buffer int) *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, buffer)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.mu.Unlock()
	m.done <- struct{}{}
	return m.emitErr
}

func (m *mockEventEmitter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emit %d of %d", i+1, n)
		}
	}
}

func (m *mockEventEmitter) getEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, nil, Event{Type: EventSessionRegistered})
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newMockEmitter(1)
	EmitAsync(emitter, zap.NewNop(), Event{ID: "e1", Type: EventSessionRevoked, Subject: "u1", Reason: ReasonForceLogout})
	emitter.wait(t, 1)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Subject != "u1" {
		t.Errorf("subject = %q, want %q", events[0].Subject, "u1")
	}
	if events[0].Reason != ReasonForceLogout {
		t.Errorf("reason = %q, want %q", events[0].Reason, ReasonForceLogout)
	}
	if emitter.ctxErrs[0] != nil {
		t.Errorf("emit context already done: %v", emitter.ctxErrs[0])
	}
}

func TestEmitAsync_ErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	emitter := newMockEmitter(1)
	emitter.emitErr = errors.New("broker down")

	EmitAsync(emitter, zap.New(core), Event{ID: "e2", Type: EventSessionRegistered})
	emitter.wait(t, 1)

	deadline := time.Now().Add(2 * time.Second)
	for logs.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 warning, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["event_id"] != "e2" {
		t.Errorf("event_id = %v, want e2", entry.ContextMap()["event_id"])
	}
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := newMockEmitter(10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, nil, Event{Type: EventSessionRegistered})
		}()
	}
	wg.Wait()
	emitter.wait(t, 10)

	if got := len(emitter.getEvents()); got != 10 {
		t.Errorf("expected 10 events, got %d", got)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := newMockEmitter(1), newMockEmitter(1)
	a.emitErr = errors.New("a failed")
	m := MultiEmitter{a, nil, b}

	err := m.Emit(context.Background(), Event{Type: EventSessionRegistered})
	if err == nil || err.Error() != "a failed" {
		t.Errorf("err = %v, want a failed", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("every emitter should receive the event even after an error")
	}
}
