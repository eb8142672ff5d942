package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileFeed serves posts from a JSON fixture keyed by source handle. It backs
// offline runs and the CLI's --feed flag; a live transport implements Feed
// the same way.
type FileFeed struct {
	Path string

	posts map[string][]RawSignal
}

func NewFileFeed(path string) (*FileFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed file: %w", err)
	}
	var posts map[string][]RawSignal
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("parse feed file %s: %w", path, err)
	}
	return &FileFeed{Path: path, posts: posts}, nil
}

func (f *FileFeed) Fetch(_ context.Context, _, source string, since time.Time) ([]RawSignal, error) {
	var out []RawSignal
	for _, p := range f.posts[source] {
		if p.Timestamp.Before(since) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// EmptyFeed returns no posts for any source. Used when a cycle should run
// against already-stored signals only.
type EmptyFeed struct{}

func (EmptyFeed) Fetch(context.Context, string, string, time.Time) ([]RawSignal, error) {
	return nil, nil
}
