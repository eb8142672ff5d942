package intel_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"castd/internal/config"
	"castd/internal/db"
	"castd/internal/events"
	"castd/internal/intel"
	"castd/internal/migrate"
	"castd/internal/repo"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubFeed struct {
	posts map[string][]intel.RawSignal
	fail  map[string]bool
}

func (f stubFeed) Fetch(_ context.Context, _, source string, _ time.Time) ([]intel.RawSignal, error) {
	if f.fail[source] {
		return nil, errors.New("source unavailable")
	}
	return f.posts[source], nil
}

func newCollector(t *testing.T, feed intel.Feed) (intel.Collector, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	c := intel.Collector{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn, Now: func() time.Time { return testNow }},
		Feed:   feed,
		Now:    func() time.Time { return testNow },
	}
	return c, conn
}

func testDomains() map[string]config.Domain {
	return map[string]config.Domain{
		"crypto_racers": {Name: "Crypto Racers", Sources: []string{"racers_official"}},
	}
}

func TestGatherClassifiesSignals(t *testing.T) {
	feed := stubFeed{posts: map[string][]intel.RawSignal{
		"racers_official": {
			{Text: "Big tournament this weekend!", Author: "racers", Timestamp: testNow.Add(-time.Hour), Likes: 100, Reposts: 10, Replies: 5},
			{Text: "Patch update 1.2 released", Author: "racers", Timestamp: testNow.Add(-2 * time.Hour)},
			{Text: "gm everyone", Author: "racers", Timestamp: testNow.Add(-3 * time.Hour)},
		},
	}}
	c, _ := newCollector(t, feed)
	ctx := context.Background()

	n, err := c.Gather(ctx, testDomains())
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("signals stored = %d, want 2", n)
	}

	since := testNow.Add(-intel.SignalWindow).Format(time.RFC3339)
	signals, err := c.Repo.ListSignals(ctx, "crypto_racers", since)
	if err != nil {
		t.Fatal(err)
	}
	kinds := map[string]bool{}
	for _, s := range signals {
		kinds[s.Kind] = true
	}
	if !kinds["tournament"] || !kinds["update"] {
		t.Fatalf("kinds = %v, want tournament and update", kinds)
	}
	for _, s := range signals {
		if s.Kind == "tournament" && s.Relevance != 100*0.5+10*2+5 {
			t.Fatalf("tournament relevance = %v, want 75", s.Relevance)
		}
	}
}

func TestGatherSkipsStalePosts(t *testing.T) {
	feed := stubFeed{posts: map[string][]intel.RawSignal{
		"racers_official": {
			{Text: "tournament announced", Timestamp: testNow.Add(-8 * 24 * time.Hour)},
		},
	}}
	c, _ := newCollector(t, feed)

	n, err := c.Gather(context.Background(), testDomains())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("stale post stored %d signals, want 0", n)
	}
}

func TestGatherIdempotentOnRepeat(t *testing.T) {
	feed := stubFeed{posts: map[string][]intel.RawSignal{
		"racers_official": {
			{Text: "tournament announced", Timestamp: testNow.Add(-time.Hour), Likes: 4},
		},
	}}
	c, conn := newCollector(t, feed)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Gather(ctx, testDomains()); err != nil {
			t.Fatal(err)
		}
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("repeated gather stored %d signals, want 1", n)
	}
}

func TestGatherToleratesFailingSource(t *testing.T) {
	feed := stubFeed{
		posts: map[string][]intel.RawSignal{
			"good": {{Text: "airdrop live", Timestamp: testNow.Add(-time.Hour)}},
		},
		fail: map[string]bool{"bad": true},
	}
	c, _ := newCollector(t, feed)

	domains := map[string]config.Domain{
		"crypto_racers": {Name: "Crypto Racers", Sources: []string{"bad", "good"}},
	}
	n, err := c.Gather(context.Background(), domains)
	if err != nil {
		t.Fatalf("gather should survive a failing source: %v", err)
	}
	if n != 1 {
		t.Fatalf("signals = %d, want 1 from the healthy source", n)
	}
}

func TestGatherExtractsPrices(t *testing.T) {
	feed := stubFeed{posts: map[string][]intel.RawSignal{
		"racers_official": {
			{Text: "turbo is now worth 0.25 APT", Timestamp: testNow.Add(-2 * time.Hour)},
			{Text: "turbo now costs 0.30 APT", Timestamp: testNow.Add(-time.Hour)},
			{Text: "Introducing: nitro", Timestamp: testNow.Add(-time.Hour)},
			{Text: "limited edition goldwheel available", Timestamp: testNow.Add(-time.Hour)},
		},
	}}
	c, _ := newCollector(t, feed)
	ctx := context.Background()

	if _, err := c.Gather(ctx, testDomains()); err != nil {
		t.Fatal(err)
	}

	resources, err := c.Repo.ListResources(ctx, "crypto_racers")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]string{}
	for _, r := range resources {
		byID[r.ResourceID] = r.Type
		if r.ResourceID == "turbo" {
			if r.LastPrice == nil || *r.LastPrice != 0.30 {
				t.Fatalf("turbo last price = %v, want 0.30", r.LastPrice)
			}
		}
	}
	if byID["nitro"] != "common" {
		t.Fatalf("nitro type = %q, want common", byID["nitro"])
	}
	if byID["goldwheel"] != "rare" {
		t.Fatalf("goldwheel type = %q, want rare", byID["goldwheel"])
	}

	prices, err := c.Repo.LastTwoPrices(ctx, "crypto_racers", "turbo")
	if err != nil {
		t.Fatal(err)
	}
	if len(prices) != 2 || prices[0] != 0.30 || prices[1] != 0.25 {
		t.Fatalf("last two prices = %v, want [0.30 0.25]", prices)
	}
}

func TestActivityMetric(t *testing.T) {
	feed := stubFeed{posts: map[string][]intel.RawSignal{
		"racers_official": {
			{Text: "tournament one", Timestamp: testNow.Add(-time.Hour), Likes: 20},  // relevance 10
			{Text: "tournament two", Timestamp: testNow.Add(-2 * time.Hour), Likes: 60}, // relevance 30
		},
	}}
	c, _ := newCollector(t, feed)
	ctx := context.Background()

	if _, err := c.Gather(ctx, testDomains()); err != nil {
		t.Fatal(err)
	}
	d, err := c.Repo.GetDomain(ctx, "crypto_racers")
	if err != nil {
		t.Fatal(err)
	}
	// 2 signals * 10 + mean relevance 20 / 5 = 24
	if d.Activity != 24 {
		t.Fatalf("activity = %v, want 24", d.Activity)
	}
	if d.LastUpdated != testNow.Format(time.RFC3339) {
		t.Fatalf("last updated = %q", d.LastUpdated)
	}
}
