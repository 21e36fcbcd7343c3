package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterLockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)
	AcquireCounter.Inc()
	ReleaseCounter.Inc()
	ContentionCounter.Inc()
	HeldGauge.Set(1)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 4 {
		t.Fatalf("expected metrics registered, got %d families", len(mfs))
	}
}

func TestRegisterLockMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterLockMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterLockMetrics(reg)
}
