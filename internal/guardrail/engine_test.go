package guardrail

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEvaluateCandidateDefaultsToEligible(t *testing.T) {
	e := NewAllowAll()
	d := e.EvaluateCandidate(CandidateInput{WorkerID: "w-1", ItemValue: 100, ItemCategory: "design"})
	if !d.Allowed {
		t.Fatalf("worker without preferences must be eligible, got %+v", d)
	}
}

func TestEvaluateCandidatePreferenceFilters(t *testing.T) {
	e := NewAllowAll()
	cases := []struct {
		name   string
		in     CandidateInput
		reason string
	}{
		{
			name:   "opted out",
			in:     CandidateInput{HasPreference: true, Enabled: false, ItemValue: 100},
			reason: "not_opted_in",
		},
		{
			name:   "below min budget",
			in:     CandidateInput{HasPreference: true, Enabled: true, MinBudget: 500, ItemValue: 100},
			reason: "below_min_budget",
		},
		{
			name:   "above max budget",
			in:     CandidateInput{HasPreference: true, Enabled: true, MaxBudget: 50, ItemValue: 100},
			reason: "above_max_budget",
		},
		{
			name:   "excluded category",
			in:     CandidateInput{HasPreference: true, Enabled: true, ExcludedCategories: []string{"Design"}, ItemValue: 100, ItemCategory: "design"},
			reason: "category_excluded",
		},
		{
			name:   "concurrency cap",
			in:     CandidateInput{HasPreference: true, Enabled: true, ConcurrencyCap: 2, ActiveEntries: 2, ItemValue: 100},
			reason: "concurrency_cap_reached",
		},
	}
	for _, c := range cases {
		d := e.EvaluateCandidate(c.in)
		if d.Allowed {
			t.Fatalf("%s: expected denial", c.name)
		}
		if d.ReasonCode != c.reason {
			t.Fatalf("%s: expected reason %q, got %q", c.name, c.reason, d.ReasonCode)
		}
	}
}

func TestEvaluateCandidatePlatformRules(t *testing.T) {
	e := NewFromRules(PlatformRules{
		BlockedCategories: []string{"gambling"},
		MinItemValue:      10,
		MaxItemValue:      10000,
	})

	if d := e.EvaluateCandidate(CandidateInput{ItemValue: 100, ItemCategory: "gambling"}); d.Allowed || d.ReasonCode != "platform_category_blocked" {
		t.Fatalf("expected platform_category_blocked, got %+v", d)
	}
	if d := e.EvaluateCandidate(CandidateInput{ItemValue: 5}); d.Allowed || d.ReasonCode != "platform_value_floor" {
		t.Fatalf("expected platform_value_floor, got %+v", d)
	}
	if d := e.EvaluateCandidate(CandidateInput{ItemValue: 20000}); d.Allowed || d.ReasonCode != "platform_value_ceiling" {
		t.Fatalf("expected platform_value_ceiling, got %+v", d)
	}
	if d := e.EvaluateCandidate(CandidateInput{ItemValue: 100, ItemCategory: "design"}); !d.Allowed {
		t.Fatalf("in-range candidate must pass, got %+v", d)
	}
}

func TestEvaluateCandidateDefaultConcurrencyCap(t *testing.T) {
	e := NewFromRules(PlatformRules{DefaultConcurrencyCap: 3})
	if d := e.EvaluateCandidate(CandidateInput{ItemValue: 100, ActiveEntries: 3}); d.Allowed || d.ReasonCode != "concurrency_cap_reached" {
		t.Fatalf("expected platform default cap to apply, got %+v", d)
	}
	// Worker-level cap overrides the platform default.
	if d := e.EvaluateCandidate(CandidateInput{HasPreference: true, Enabled: true, ConcurrencyCap: 5, ItemValue: 100, ActiveEntries: 3}); !d.Allowed {
		t.Fatalf("worker cap 5 should allow 3 active, got %+v", d)
	}
}

func TestLoadFromEnvParsesRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	raw := []byte("blocked_categories:\n  - gambling\nmin_item_value: 25\nmax_item_value: 5000\ndefault_concurrency_cap: 4\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	t.Setenv("AUTOMATCH_GUARDRAIL_FILE", path)

	e, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.IsNoop() {
		t.Fatalf("expected rules engine, got noop")
	}
	if d := e.EvaluateCandidate(CandidateInput{ItemValue: 10}); d.Allowed || d.ReasonCode != "platform_value_floor" {
		t.Fatalf("expected floor from file, got %+v", d)
	}
}

func TestLoadFromEnvWithoutFileIsNoop(t *testing.T) {
	t.Setenv("AUTOMATCH_GUARDRAIL_FILE", "")
	e, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !e.IsNoop() {
		t.Fatalf("expected noop engine without a rules file")
	}
}
