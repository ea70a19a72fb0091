package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePurger struct {
	mu    sync.Mutex
	calls []time.Duration
	n     int64
	err   error
	ran   chan struct{}
}

func (f *fakePurger) PurgeRevoked(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, olderThan)
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return f.n, f.err
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	if _, err := NewSweeper(&fakePurger{}, time.Hour, "every so often", nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestNewSweeper_DisabledIgnoresSchedule(t *testing.T) {
	s, err := NewSweeper(&fakePurger{}, 0, "not a schedule", nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if got := len(s.cron.Entries()); got != 0 {
		t.Errorf("entries = %d, want 0", got)
	}
}

func TestRunOnce_PassesRetention(t *testing.T) {
	p := &fakePurger{n: 4}
	s, err := NewSweeper(p, 720*time.Hour, "@hourly", nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	n, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
	if len(p.calls) != 1 || p.calls[0] != 720*time.Hour {
		t.Errorf("calls = %v, want [720h]", p.calls)
	}
}

func TestRun_LogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := NewSweeper(&fakePurger{err: errors.New("store down")}, time.Hour, "@hourly", zap.New(core))
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.run()
	if got := logs.FilterMessage("purge of revoked sessions failed").Len(); got != 1 {
		t.Errorf("failure log entries = %d, want 1", got)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	p := &fakePurger{ran: make(chan struct{}, 1)}
	s, err := NewSweeper(p, time.Hour, "@every 1s", nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start()
	select {
	case <-p.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("purge did not run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
