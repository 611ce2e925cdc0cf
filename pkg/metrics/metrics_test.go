package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	m := New()
	m.ObserveStage("embed", 12, 2*time.Second, nil)
	m.ObserveStage("embed", 0, time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(m.stageItems.WithLabelValues("embed")); got != 12 {
		t.Fatalf("expected 12 items, got %v", got)
	}
	if n := testutil.CollectAndCount(m.stageDuration); n != 2 {
		t.Fatalf("expected ok and error series, got %d", n)
	}
}

func TestObserveCallOutcomes(t *testing.T) {
	m := New()
	m.ObserveCall("embedding", 10*time.Millisecond, nil)
	m.ObserveCall("embedding", 10*time.Millisecond, errors.New("x"))
	m.ObserveCall("embedding", 10*time.Millisecond, context.Canceled)
	m.IncRetry("embedding")
	m.SetBreakerState("embedding", 1)

	for _, o := range []string{"ok", "error", "canceled"} {
		if got := testutil.ToFloat64(m.serviceCalls.WithLabelValues("embedding", o)); got != 1 {
			t.Errorf("outcome %s: expected 1, got %v", o, got)
		}
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("embedding")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("embedding")); got != 1 {
		t.Errorf("expected breaker state 1, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage("chunk", 1, time.Second, nil)
	m.ObserveCall("generation", time.Second, nil)
	m.IncRetry("generation")
	m.SetBreakerState("generation", 0)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.ObserveStage("index", 3, time.Millisecond, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`docqa_stage_items_total{stage="index"} 3`,
		"docqa_stage_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
