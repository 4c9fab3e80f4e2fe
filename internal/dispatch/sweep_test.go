package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/orbas1/gigvora-automatch/internal/state"
)

func TestSweepExpiresStaleOffersAndAdvances(t *testing.T) {
	e, sink := newTestEngine(t, Options{OfferTTL: time.Millisecond})
	seedMetrics(t, e)
	ctx := context.Background()
	result := buildForResolution(t, e, "job-sweep", "w-strong", "w-mid")

	expired, err := e.SweepExpired(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired entry, got %d", expired)
	}

	first, found, err := e.GetEntry(ctx, result.Notified.ID)
	if err != nil || !found {
		t.Fatalf("get entry: %v found=%v", err, found)
	}
	if first.Status != state.EntryExpired {
		t.Fatalf("expected expired status, got %s", first.Status)
	}
	if first.ResolvedBy != sweeperActor || first.ReasonCode != "offer_ttl_expired" {
		t.Fatalf("sweeper attribution missing: %+v", first)
	}

	entries, err := e.Store().ListEntriesByWorkItem(ctx, "job-sweep")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	promoted := false
	for _, entry := range entries {
		if entry.Rank == 2 && entry.Status == state.EntryNotified {
			promoted = true
		}
	}
	if !promoted {
		t.Fatalf("expected rank 2 promoted after expiry, got %+v", entries)
	}
	if offers := sink.Offers(); len(offers) != 2 {
		t.Fatalf("expected follow-up offer after expiry, got %d", len(offers))
	}
}

func TestSweepIgnoresLiveOffers(t *testing.T) {
	e, _ := newTestEngine(t, Options{OfferTTL: time.Hour})
	seedMetrics(t, e)
	ctx := context.Background()
	buildForResolution(t, e, "job-live", "w-strong")

	expired, err := e.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no expiries for live offers, got %d", expired)
	}
}

func TestSweepToleratesConcurrentResolution(t *testing.T) {
	e, _ := newTestEngine(t, Options{OfferTTL: time.Millisecond})
	seedMetrics(t, e)
	ctx := context.Background()
	result := buildForResolution(t, e, "job-sweep-race", "w-strong")

	// Worker responds between the scan and the sweep's resolution.
	if _, err := e.ResolveEntry(ctx, result.Notified.ID, state.EntryAccepted, ResolutionContext{ActorID: "w-strong"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	expired, err := e.SweepExpired(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("sweep must tolerate the race: %v", err)
	}
	if expired != 0 {
		t.Fatalf("accepted entry must not be expired, got %d", expired)
	}

	entry, _, err := e.GetEntry(ctx, result.Notified.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != state.EntryAccepted {
		t.Fatalf("acceptance overwritten by sweep: %s", entry.Status)
	}
}
