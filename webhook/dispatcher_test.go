package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"gstflow/health"
)

func testDispatcher() (*Dispatcher, *health.Monitor) {
	mon := health.NewMonitor()
	logger := slog.New(slog.DiscardHandler)
	d := NewDispatcher(mon, logger).WithRetryPolicy(3, 0)
	return d, mon
}

func testEvent(topic string) Event {
	return Event{Topic: topic, Shop: "demo.myshopify.com", Payload: []byte(`{}`)}
}

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	attempts, err := WithRetry(context.Background(), 3, 0, func(context.Context) error {
		return nil
	})
	if err != nil || attempts != 1 {
		t.Fatalf("expected 1 attempt no error, got %d, %v", attempts, err)
	}
}

func TestWithRetry_RecoversAfterFailures(t *testing.T) {
	var calls int
	attempts, err := WithRetry(context.Background(), 3, 0, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_Exhaustion(t *testing.T) {
	boom := errors.New("down")
	attempts, err := WithRetry(context.Background(), 3, 0, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := WithRetry(ctx, 5, time.Minute, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("transient")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	}()

	// Give the first attempt time to run, then cancel during the delay.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 attempt before cancel, got %d", n)
	}
}

func TestDispatch_SuccessRecordsSingleMetric(t *testing.T) {
	d, mon := testDispatcher()
	d.Register("orders/create", func(context.Context, Event) error { return nil })

	if err := d.Dispatch(context.Background(), testEvent("orders/create")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	stats := mon.Status("")
	if stats.Total != 1 || stats.Successful != 1 {
		t.Fatalf("expected exactly one success metric, got %+v", stats)
	}
}

func TestDispatch_RetriedDeliveryRecordsOneMetricWithAttempts(t *testing.T) {
	d, mon := testDispatcher()
	var calls int
	d.Register("orders/create", func(context.Context, Event) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})

	if err := d.Dispatch(context.Background(), testEvent("orders/create")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	stats := mon.Status("")
	if stats.Total != 1 || stats.Successful != 1 || stats.Failed != 0 {
		t.Fatalf("retried delivery must record one success metric, got %+v", stats)
	}

	// The attempt count lives on the metric, not on extra entries.
	metrics := mon.RecentFailures("", 10)
	if len(metrics) != 0 {
		t.Fatalf("no failure metrics expected, got %d", len(metrics))
	}
	byTopic := mon.StatsByTopic("")
	if byTopic["orders/create"].Total != 1 {
		t.Errorf("expected single entry for topic, got %+v", byTopic)
	}
}

func TestDispatch_ExhaustionRecordsOneFailureMetric(t *testing.T) {
	d, mon := testDispatcher()
	var calls int
	d.Register("orders/create", func(context.Context, Event) error {
		calls++
		return errors.New("persistent")
	})

	err := d.Dispatch(context.Background(), testEvent("orders/create"))
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	stats := mon.Status("")
	if stats.Total != 1 || stats.Failed != 1 {
		t.Fatalf("expected exactly one failure metric, got %+v", stats)
	}
	failures := mon.RecentFailures("", 1)
	if len(failures) != 1 || failures[0].Attempts != 3 {
		t.Fatalf("expected failure metric with Attempts=3, got %+v", failures)
	}
}

func TestDispatch_UnknownTopicAcknowledgedWithoutMetric(t *testing.T) {
	d, mon := testDispatcher()

	if err := d.Dispatch(context.Background(), testEvent("checkouts/create")); err != nil {
		t.Fatalf("unknown topic must be acknowledged, got %v", err)
	}
	if stats := mon.Status(""); stats.Total != 0 {
		t.Fatalf("unknown topic must not record a metric, got %+v", stats)
	}
}
