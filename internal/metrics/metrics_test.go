package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.Observe(context.Background(), "records.create_surgeon", true, 5*time.Millisecond)
	rec.Observe(context.Background(), "records.create_surgeon", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)
	if got := testutil.ToFloat64(rec.results.WithLabelValues("records.create_surgeon", "success")); got != 1 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("records.create_surgeon", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

type captured struct {
	op      string
	success bool
}

type captureRecorder struct{ got []captured }

func (c *captureRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.got = append(c.got, captured{op, success})
}

func TestTrack(t *testing.T) {
	rec := &captureRecorder{}
	run := func(fail bool) (err error) {
		defer Track(context.Background(), rec, "op", time.Now(), &err)
		if fail {
			return errors.New("boom")
		}
		return nil
	}
	_ = run(false)
	_ = run(true)
	if len(rec.got) != 2 || !rec.got[0].success || rec.got[1].success {
		t.Fatalf("unexpected observations %+v", rec.got)
	}
	Track(context.Background(), nil, "op", time.Now(), nil)
	Nop{}.Observe(context.Background(), "op", true, 0)
}
