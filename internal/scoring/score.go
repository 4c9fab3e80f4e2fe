// Package scoring ranks candidate workers for a work item. Score and
// confidence are deliberately independent: score measures how good the
// available evidence looks, confidence measures how much evidence there
// is. Absent signals are excluded from the score instead of imputed, so
// a newcomer with strong rating and completion-rate signals can outrank
// a veteran whose recency and experience signals have gone stale, while
// the veteran still reports the higher confidence.
package scoring

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidInput is returned when the work item value or evaluation
// time is missing. Scoring never substitutes defaults for either.
var ErrInvalidInput = errors.New("scoring: work item value and evaluation time are required")

// Metric is a worker's rolling assignment statistics. The zero value is
// a valid newcomer with no history.
type Metric struct {
	LastAssignedAt   time.Time
	LastCompletedAt  time.Time
	TotalAssigned    int
	TotalCompleted   int
	Rating           float64
	CompletionRate   float64
	AvgAssignedValue float64
}

type Weights struct {
	Recency        float64
	Experience     float64
	Rating         float64
	CompletionRate float64
	ValueFit       float64
}

type Options struct {
	Weights Weights
	// RecencyDecayDays is the e-folding time of the recency signal.
	RecencyDecayDays float64
	// ExperienceScale is the completion count treated as full
	// experience on the log scale.
	ExperienceScale float64
}

type Signal struct {
	Value   float64
	Covered bool
}

type SignalBreakdown struct {
	Recency        Signal
	Experience     Signal
	Rating         Signal
	CompletionRate Signal
	ValueFit       Signal
}

func (b SignalBreakdown) signals() []Signal {
	return []Signal{b.Recency, b.Experience, b.Rating, b.CompletionRate, b.ValueFit}
}

// Coverage is the fraction of signals backed by real data.
func (b SignalBreakdown) Coverage() float64 {
	covered := 0
	all := b.signals()
	for _, s := range all {
		if s.Covered {
			covered++
		}
	}
	return float64(covered) / float64(len(all))
}

type Result struct {
	Score          float64
	PriorityBucket int
	Confidence     float64
	Breakdown      SignalBreakdown
}

type Engine struct {
	weights          Weights
	recencyDecayDays float64
	experienceScale  float64
}

func NewEngine(opts Options) *Engine {
	w := opts.Weights
	if w.Recency == 0 {
		w.Recency = 1.0
	}
	if w.Experience == 0 {
		w.Experience = 1.0
	}
	if w.Rating == 0 {
		w.Rating = 1.0
	}
	if w.CompletionRate == 0 {
		w.CompletionRate = 1.0
	}
	if w.ValueFit == 0 {
		w.ValueFit = 1.0
	}
	decay := opts.RecencyDecayDays
	if decay <= 0 {
		decay = 7
	}
	scale := opts.ExperienceScale
	if scale <= 0 {
		scale = 50
	}
	return &Engine{weights: w, recencyDecayDays: decay, experienceScale: scale}
}

// Score evaluates one candidate for one work item. tenureStart clamps
// activity timestamps so imported history cannot predate the account.
func (e *Engine) Score(metric Metric, workItemValue float64, tenureStart, now time.Time) (Result, error) {
	if workItemValue <= 0 || now.IsZero() {
		return Result{}, ErrInvalidInput
	}

	b := SignalBreakdown{
		Recency:        e.recencySignal(metric, tenureStart, now),
		Experience:     e.experienceSignal(metric),
		Rating:         ratingSignal(metric),
		CompletionRate: completionRateSignal(metric),
		ValueFit:       valueFitSignal(metric, workItemValue),
	}

	weights := []float64{e.weights.Recency, e.weights.Experience, e.weights.Rating, e.weights.CompletionRate, e.weights.ValueFit}
	signals := b.signals()
	weighted := 0.0
	coveredWeight := 0.0
	totalWeight := 0.0
	for i, s := range signals {
		totalWeight += weights[i]
		if !s.Covered {
			continue
		}
		weighted += weights[i] * s.Value
		coveredWeight += weights[i]
	}

	score := 0.0
	if coveredWeight > 0 {
		score = weighted / coveredWeight
	}
	confidence := 0.0
	if totalWeight > 0 {
		confidence = coveredWeight / totalWeight
	}

	return Result{
		Score:          score,
		PriorityBucket: priorityBucket(score),
		Confidence:     confidence,
		Breakdown:      b,
	}, nil
}

func (e *Engine) recencySignal(m Metric, tenureStart, now time.Time) Signal {
	last := m.LastAssignedAt
	if m.LastCompletedAt.After(last) {
		last = m.LastCompletedAt
	}
	if last.IsZero() {
		return Signal{}
	}
	if !tenureStart.IsZero() && last.Before(tenureStart) {
		last = tenureStart
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	return Signal{Value: math.Exp(-days / e.recencyDecayDays), Covered: true}
}

func (e *Engine) experienceSignal(m Metric) Signal {
	if m.TotalAssigned <= 0 {
		return Signal{}
	}
	v := math.Log1p(float64(m.TotalCompleted)) / math.Log1p(e.experienceScale)
	if v > 1 {
		v = 1
	}
	return Signal{Value: v, Covered: true}
}

func ratingSignal(m Metric) Signal {
	if m.Rating <= 0 {
		return Signal{}
	}
	r := m.Rating
	if r > 5 {
		r = 5
	}
	return Signal{Value: r / 5, Covered: true}
}

func completionRateSignal(m Metric) Signal {
	if m.CompletionRate <= 0 {
		return Signal{}
	}
	v := m.CompletionRate
	if v > 1 {
		v = 1
	}
	return Signal{Value: v, Covered: true}
}

func valueFitSignal(m Metric, workItemValue float64) Signal {
	if m.AvgAssignedValue <= 0 {
		return Signal{}
	}
	lo, hi := m.AvgAssignedValue, workItemValue
	if lo > hi {
		lo, hi = hi, lo
	}
	return Signal{Value: lo / hi, Covered: true}
}

// priorityBucket discretizes score into 1..5; lower means higher
// priority.
func priorityBucket(score float64) int {
	switch {
	case score >= 0.8:
		return 1
	case score >= 0.6:
		return 2
	case score >= 0.4:
		return 3
	case score >= 0.2:
		return 4
	default:
		return 5
	}
}
