// Package snapshot exports the leaderboard to object storage.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/types"
)

const (
	keyPrefix = "leaderboard"

	// LatestKey always holds the most recent snapshot.
	LatestKey = keyPrefix + "/latest.json"
)

// Snapshot is the stored document.
type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Leaders     []types.Leader `json:"leaders"`
}

// ObjectWriter uploads JSON documents. *storage.Storage satisfies it.
type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, value any) error
}

// ObjectReader downloads JSON documents. *storage.Storage satisfies it.
type ObjectReader interface {
	GetJSON(ctx context.Context, key string, dst any) error
}

// Exporter writes leaderboard snapshots.
type Exporter struct {
	leaders services.LeaderboardReader
	objects ObjectWriter
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Exporter)

// WithClock overrides the clock used to timestamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

func NewExporter(leaders services.LeaderboardReader, objects ObjectWriter, opts ...Option) *Exporter {
	e := &Exporter{
		leaders: leaders,
		objects: objects,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export stores the current leaderboard under a timestamped key and then
// under LatestKey. It returns the timestamped key.
func (e *Exporter) Export(ctx context.Context) (string, Snapshot, error) {
	leaders, err := e.leaders.Leaders(ctx)
	if err != nil {
		return "", Snapshot{}, fmt.Errorf("read leaderboard: %w", err)
	}
	if leaders == nil {
		leaders = []types.Leader{}
	}

	snap := Snapshot{
		GeneratedAt: e.now().UTC().Truncate(time.Second),
		Leaders:     leaders,
	}
	key := Key(snap.GeneratedAt)

	if err := e.objects.PutJSON(ctx, key, snap); err != nil {
		return "", Snapshot{}, fmt.Errorf("upload %s: %w", key, err)
	}
	if err := e.objects.PutJSON(ctx, LatestKey, snap); err != nil {
		return "", Snapshot{}, fmt.Errorf("upload %s: %w", LatestKey, err)
	}

	e.logger.InfoContext(ctx, "leaderboard snapshot exported", "key", key, "leaders", len(leaders))
	return key, snap, nil
}

// Key returns the object key of a snapshot generated at t.
func Key(t time.Time) string {
	return path.Join(keyPrefix, t.UTC().Format(time.RFC3339)+".json")
}

// Latest reads the most recent snapshot.
func Latest(ctx context.Context, objects ObjectReader) (Snapshot, error) {
	var snap Snapshot
	if err := objects.GetJSON(ctx, LatestKey, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
