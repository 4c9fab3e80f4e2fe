package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// respondLimiter bounds how fast workers can hammer the respond
// endpoint, per worker and globally, over a sliding one minute window.
type respondLimiter struct {
	mu           sync.Mutex
	perWorkerMax int
	globalMax    int
	window       time.Duration
	workers      map[string][]int64
	global       []int64
}

func newRespondLimiterFromEnv() *respondLimiter {
	perWorker := getenvIntRL("AUTOMATCH_RESPOND_RATE_LIMIT_PER_MIN", 120)
	global := getenvIntRL("AUTOMATCH_RESPOND_GLOBAL_RATE_LIMIT_PER_MIN", 5000)
	if perWorker < 0 {
		perWorker = 0
	}
	if global < 0 {
		global = 0
	}
	return &respondLimiter{
		perWorkerMax: perWorker,
		globalMax:    global,
		window:       time.Minute,
		workers:      map[string][]int64{},
		global:       make([]int64, 0, 1024),
	}
}

func (l *respondLimiter) allow(workerID string, now time.Time) bool {
	if l == nil || (l.perWorkerMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	if workerID == "" {
		workerID = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.workers[workerID], cutoff)
	if l.perWorkerMax > 0 && len(history) >= l.perWorkerMax {
		l.workers[workerID] = history
		return false
	}

	history = append(history, ts)
	l.workers[workerID] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvIntRL(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
