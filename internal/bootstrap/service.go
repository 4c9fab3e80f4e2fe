package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/orbas1/gigvora-automatch/internal/dispatch"
	"github.com/orbas1/gigvora-automatch/internal/guardrail"
	"github.com/orbas1/gigvora-automatch/internal/notify"
	"github.com/orbas1/gigvora-automatch/internal/scoring"
	"github.com/orbas1/gigvora-automatch/internal/state"
)

// NewEngineFromEnv assembles the dispatch engine from AUTOMATCH_*
// variables: store backend, notifier backend, guardrail rules, offer
// TTL and candidate cap.
func NewEngineFromEnv() (*dispatch.Engine, error) {
	store, err := newStore(getenv("AUTOMATCH_STORE", "memory"))
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(getenv("AUTOMATCH_NOTIFIER", "log"))
	if err != nil {
		return nil, err
	}
	guardrails, err := guardrail.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	ttlSeconds := getenvInt("AUTOMATCH_OFFER_TTL_SECONDS", 1800)
	return dispatch.NewEngine(store, dispatch.Options{
		OfferTTL:      time.Duration(ttlSeconds) * time.Second,
		MaxCandidates: getenvInt("AUTOMATCH_MAX_CANDIDATES", 0),
		Scorer: scoring.NewEngine(scoring.Options{
			RecencyDecayDays: getenvFloat("AUTOMATCH_RECENCY_DECAY_DAYS", 0),
		}),
		Guardrails: guardrails,
		Notifier:   notifier,
	}), nil
}

func newStore(kind string) (state.Store, error) {
	switch kind {
	case "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		dsn := os.Getenv("AUTOMATCH_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("AUTOMATCH_POSTGRES_DSN is required when AUTOMATCH_STORE=postgres")
		}
		return state.NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported AUTOMATCH_STORE value %q", kind)
	}
}

func newNotifier(kind string) (notify.Notifier, error) {
	switch kind {
	case "log":
		return notify.LogNotifier{}, nil
	case "redis":
		return notify.NewRedisOutbox(notify.RedisOutboxConfig{
			Addr:     getenv("AUTOMATCH_REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("AUTOMATCH_REDIS_PASSWORD"),
			DB:       getenvInt("AUTOMATCH_REDIS_DB", 0),
			Key:      getenv("AUTOMATCH_REDIS_KEY", "automatch:notify"),
			Timeout:  3 * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported AUTOMATCH_NOTIFIER value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
