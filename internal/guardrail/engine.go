// Package guardrail decides whether a worker may be queued for a work
// item. It combines the worker's own preferences (opt-out, budget
// bounds, category exclusions, concurrency cap) with platform rules
// loaded from an optional YAML file. Guardrails are pure build-time
// filters: changing them never touches existing queue entries.
package guardrail

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type PlatformRules struct {
	BlockedCategories     []string `yaml:"blocked_categories"`
	MinItemValue          float64  `yaml:"min_item_value"`
	MaxItemValue          float64  `yaml:"max_item_value"`
	DefaultConcurrencyCap int      `yaml:"default_concurrency_cap"`
}

type Decision struct {
	Allowed    bool
	ReasonCode string
	Rule       string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason, rule string) Decision {
	return Decision{Allowed: false, ReasonCode: reason, Rule: rule}
}

// CandidateInput carries everything the filters consult for one
// (worker, work item) pairing. ActiveEntries is the worker's live
// notified+accepted count at build time.
type CandidateInput struct {
	WorkerID           string
	HasPreference      bool
	Enabled            bool
	MinBudget          float64
	MaxBudget          float64
	ConcurrencyCap     int
	ExcludedCategories []string
	ActiveEntries      int
	ItemValue          float64
	ItemCategory       string
}

type Engine struct {
	rules PlatformRules
	noop  bool
}

func NewAllowAll() *Engine {
	return &Engine{noop: true}
}

func NewFromRules(rules PlatformRules) *Engine {
	noop := len(rules.BlockedCategories) == 0 && rules.MinItemValue <= 0 && rules.MaxItemValue <= 0 && rules.DefaultConcurrencyCap <= 0
	return &Engine{rules: rules, noop: noop}
}

func LoadFromEnv() (*Engine, error) {
	path := strings.TrimSpace(os.Getenv("AUTOMATCH_GUARDRAIL_FILE"))
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guardrail file: %w", err)
	}
	var rules PlatformRules
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("parse guardrail file: %w", err)
	}
	return NewFromRules(rules), nil
}

func (e *Engine) IsNoop() bool {
	return e == nil || e.noop
}

// EvaluateCandidate applies worker preferences first, then platform
// rules. Workers without a preference record are eligible by default.
func (e *Engine) EvaluateCandidate(in CandidateInput) Decision {
	if in.HasPreference {
		if !in.Enabled {
			return deny("not_opted_in", "preference")
		}
		if in.MinBudget > 0 && in.ItemValue < in.MinBudget {
			return deny("below_min_budget", "preference")
		}
		if in.MaxBudget > 0 && in.ItemValue > in.MaxBudget {
			return deny("above_max_budget", "preference")
		}
		for _, c := range in.ExcludedCategories {
			if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(in.ItemCategory)) {
				return deny("category_excluded", "preference")
			}
		}
	}

	maxActive := in.ConcurrencyCap
	if maxActive <= 0 && e != nil {
		maxActive = e.rules.DefaultConcurrencyCap
	}
	if maxActive > 0 && in.ActiveEntries >= maxActive {
		return deny("concurrency_cap_reached", "preference")
	}

	if e == nil || e.noop {
		return allow()
	}
	for _, c := range e.rules.BlockedCategories {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(in.ItemCategory)) {
			return deny("platform_category_blocked", "platform")
		}
	}
	if e.rules.MinItemValue > 0 && in.ItemValue < e.rules.MinItemValue {
		return deny("platform_value_floor", "platform")
	}
	if e.rules.MaxItemValue > 0 && in.ItemValue > e.rules.MaxItemValue {
		return deny("platform_value_ceiling", "platform")
	}
	return allow()
}
