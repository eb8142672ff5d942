// Package intel turns raw social posts into classified, scored signals and
// tracked resource observations.
package intel

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"castd/internal/config"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/repo"
)

// RawSignal is a post as delivered by a feed, before classification.
type RawSignal struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"ts"`
	Likes     int       `json:"likes"`
	Reposts   int       `json:"reposts"`
	Replies   int       `json:"replies"`
}

// Feed fetches recent posts for one source. A failing source must not take
// the whole collection down, so the collector calls per source and carries on.
type Feed interface {
	Fetch(ctx context.Context, domainID, source string, since time.Time) ([]RawSignal, error)
}

// SignalWindow is how far back collected posts are considered current.
const SignalWindow = 7 * 24 * time.Hour

// signalNamespace makes signal IDs deterministic per post, so re-collecting
// the same post dedupes at the insert.
var signalNamespace = uuid.MustParse("8f6f2c54-1d3a-4a8e-9d15-5a5fcf1f9b6e")

var eventKinds = []struct {
	kind     string
	keywords []string
}{
	{"tournament", []string{"tournament", "competition", "championship", "contest"}},
	{"update", []string{"update", "patch", "release", "version", "maintenance"}},
	{"promotion", []string{"promotion", "discount", "sale", "offer", "free"}},
	{"airdrop", []string{"airdrop", "drop", "claim", "free", "reward"}},
	{"governance", []string{"vote", "governance", "proposal", "dao", "decision"}},
}

var (
	priceRe     = regexp.MustCompile(`(?i)(\w+)\s+(?:is now worth|now costs)\s+(\d+(?:\.\d+)?)\s*apt`)
	newAssetRe  = regexp.MustCompile(`(?i)(?:new item|introducing):\s*(\w+)`)
	rareAssetRe = regexp.MustCompile(`(?i)(?:limited edition|rare)\s+(\w+)`)
)

type Collector struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Feed   Feed
	Now    func() time.Time
}

// Gather fetches posts for every configured domain, classifies them into
// signals, extracts resource observations, and refreshes each domain's
// activity metric. One transaction per domain: a failing domain rolls back
// alone. Returns the number of signals stored.
func (c Collector) Gather(ctx context.Context, domains map[string]config.Domain) (int, error) {
	now := c.Now().UTC()
	since := now.Add(-SignalWindow)

	ids := make([]string, 0, len(domains))
	for id := range domains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := 0
	for _, id := range ids {
		n, err := c.gatherDomain(ctx, id, domains[id], since, now)
		if err != nil {
			return total, fmt.Errorf("gather %s: %w", id, err)
		}
		total += n
	}
	return total, nil
}

func (c Collector) gatherDomain(ctx context.Context, id string, d config.Domain, since, now time.Time) (int, error) {
	if err := c.Repo.UpsertDomain(ctx, domain.TrackedDomain{ID: id, Name: d.Name}); err != nil {
		return 0, err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var signals []domain.Signal
	for _, source := range d.Sources {
		posts, err := c.Feed.Fetch(ctx, id, source, since)
		if err != nil {
			log.Printf("intel: source %s/%s: %v", id, source, err)
			continue
		}
		for _, post := range posts {
			if post.Timestamp.Before(since) {
				continue
			}
			if s, ok := classify(id, source, post); ok {
				if err := c.Repo.InsertSignalTx(ctx, tx, s); err != nil {
					return 0, err
				}
				signals = append(signals, s)
			}
			if err := c.extractAssets(ctx, tx, id, post); err != nil {
				return 0, err
			}
		}
	}

	activity := Activity(signals)
	if err := c.Repo.UpdateDomainActivityTx(ctx, tx, id, activity, now.Format(time.RFC3339)); err != nil {
		return 0, err
	}
	if err := c.Events.Append(ctx, tx, "signals.gathered", id, "domain", id, events.EventPayload{
		"signals":  len(signals),
		"activity": activity,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(signals), nil
}

// classify matches a post against the keyword tables, first table wins.
// Non-matching posts produce no signal but may still carry asset data.
func classify(domainID, source string, post RawSignal) (domain.Signal, bool) {
	text := strings.ToLower(post.Text)
	for _, ek := range eventKinds {
		for _, kw := range ek.keywords {
			if strings.Contains(text, kw) {
				ts := post.Timestamp.UTC().Format(time.RFC3339)
				seed := strings.Join([]string{domainID, source, ts, post.Text}, "|")
				return domain.Signal{
					ID:          uuid.NewSHA1(signalNamespace, []byte(seed)).String(),
					Domain:      domainID,
					Kind:        ek.kind,
					Description: post.Text,
					TS:          ts,
					Source:      source + ":" + post.Author,
					Relevance:   Relevance(post),
				}, true
			}
		}
	}
	return domain.Signal{}, false
}

// Relevance weights engagement: reposts count double, likes half.
func Relevance(post RawSignal) float64 {
	return float64(post.Likes)*0.5 + float64(post.Reposts)*2 + float64(post.Replies)
}

// Activity derives a 0-100 domain activity metric from the gathered window:
// ten points per signal plus a dampened share of the mean relevance.
func Activity(signals []domain.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Relevance
	}
	mean := sum / float64(len(signals))
	activity := float64(len(signals))*10 + mean/5
	if activity > 100 {
		activity = 100
	}
	return activity
}

func (c Collector) extractAssets(ctx context.Context, tx *sql.Tx, domainID string, post RawSignal) error {
	text := post.Text

	if m := priceRe.FindStringSubmatch(text); m != nil {
		price, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			resourceID := normalizeID(m[1])
			res := domain.TrackedResource{Domain: domainID, ResourceID: resourceID, Name: m[1], Type: "unknown"}
			if err := c.Repo.UpsertResourceTx(ctx, tx, res); err != nil {
				return err
			}
			ts := post.Timestamp.UTC().Format(time.RFC3339)
			if err := c.Repo.SetResourcePriceTx(ctx, tx, domainID, resourceID, ts, price); err != nil {
				return err
			}
		}
	}
	if m := newAssetRe.FindStringSubmatch(text); m != nil {
		res := domain.TrackedResource{Domain: domainID, ResourceID: normalizeID(m[1]), Name: m[1], Type: "common"}
		if err := c.Repo.UpsertResourceTx(ctx, tx, res); err != nil {
			return err
		}
	}
	if m := rareAssetRe.FindStringSubmatch(text); m != nil {
		res := domain.TrackedResource{Domain: domainID, ResourceID: normalizeID(m[1]), Name: m[1], Type: "rare"}
		if err := c.Repo.UpsertResourceTx(ctx, tx, res); err != nil {
			return err
		}
	}
	return nil
}

func normalizeID(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}
