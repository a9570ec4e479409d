package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveBuildCountsByStatus(t *testing.T) {
	registry := NewRegistry()
	registry.ObserveBuild("demo", "succeeded", time.Second)
	registry.ObserveBuild("demo", "failed", 0)
	registry.ObserveBuild("demo", "succeeded", 2*time.Second)

	if got := testutil.ToFloat64(registry.buildsTotal.WithLabelValues("demo", "succeeded")); got != 2 {
		t.Fatalf("expected 2 succeeded builds, got %v", got)
	}
	if got := testutil.ToFloat64(registry.buildsTotal.WithLabelValues("demo", "failed")); got != 1 {
		t.Fatalf("expected 1 failed build, got %v", got)
	}
}

func TestGenerationRefsGauge(t *testing.T) {
	registry := NewRegistry()
	registry.AddGenerationRefs("demo", 1)
	registry.AddGenerationRefs("demo", 1)
	registry.AddGenerationRefs("demo", -1)

	if got := testutil.ToFloat64(registry.generationRefs.WithLabelValues("demo")); got != 1 {
		t.Fatalf("expected 1 outstanding ref, got %v", got)
	}
}

func TestEmptyLabelsBecomeUnknown(t *testing.T) {
	registry := NewRegistry()
	registry.IncEventPublished("", " ")

	if got := testutil.ToFloat64(registry.eventPublished.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("expected unknown labels, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	registry := NewRegistry()
	registry.IncGenerationInstalled("demo")

	server := httptest.NewServer(registry.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `hotlib_generations_installed_total{package="demo"} 1`) {
		t.Fatalf("expected installed counter in output, got:\n%s", body)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.ObserveBuild("demo", "failed", time.Second)
	registry.IncWatchEvent()
	registry.SetEventSubscriberCounts("bus", 1, 1)
	if registry.Gatherer() == nil {
		t.Fatal("expected non-nil gatherer")
	}
}
