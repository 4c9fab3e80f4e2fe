package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("automatch_builds_total", map[string]string{"status": "generated"}, 2)
	r.IncCounter("automatch_resolutions_total", map[string]string{"status": "accepted"}, 1)
	r.SetGauge("automatch_active_offers", nil, 4)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `automatch_builds_total{status="generated"} 2`) {
		t.Fatalf("missing builds counter in output: %s", out)
	}
	if !strings.Contains(out, `automatch_resolutions_total{status="accepted"} 1`) {
		t.Fatalf("missing resolutions counter in output: %s", out)
	}
	if !strings.Contains(out, "automatch_active_offers 4") {
		t.Fatalf("missing gauge in output: %s", out)
	}
}

func TestCounterAccumulatesPerLabelSet(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("x_total", map[string]string{"a": "1"}, 1)
	r.IncCounter("x_total", map[string]string{"a": "1"}, 2)
	r.IncCounter("x_total", map[string]string{"a": "2"}, 5)

	s := r.Snapshot()
	if len(s.Counters) != 2 {
		t.Fatalf("expected 2 counter series, got %d", len(s.Counters))
	}
	byLabel := map[string]float64{}
	for _, p := range s.Counters {
		byLabel[p.Labels["a"]] = p.Value
	}
	if byLabel["1"] != 3 || byLabel["2"] != 5 {
		t.Fatalf("unexpected counter values: %+v", byLabel)
	}
}
