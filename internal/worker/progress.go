// Package worker consumes gameplay events from the message queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brainquiz/apiserver/internal/metrics"
	"github.com/brainquiz/apiserver/internal/mq"
	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/internal/store"
	"github.com/brainquiz/apiserver/pkg/errutil"
	"github.com/brainquiz/apiserver/types"
)

// ProgressApplier applies a progress update to a user. *services.UserService
// satisfies it.
type ProgressApplier interface {
	ApplyProgress(ctx context.Context, progress types.Progress) (types.User, error)
}

// Subscriber delivers messages from a channel until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// ProgressWorker applies types.Progress messages to the user store.
type ProgressWorker struct {
	users   ProgressApplier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewProgressWorker(users ProgressApplier, m *metrics.Metrics, logger *slog.Logger) *ProgressWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressWorker{users: users, metrics: m, logger: logger}
}

// Run blocks consuming channel until ctx is cancelled.
func (w *ProgressWorker) Run(ctx context.Context, sub Subscriber, channel string) error {
	w.logger.Info("progress worker started", "channel", channel)
	err := sub.Subscribe(ctx, channel, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle applies one message. Messages that can never succeed are
// acknowledged and dropped; only store failures are returned for redelivery.
func (w *ProgressWorker) Handle(ctx context.Context, msg mq.Message) error {
	var progress types.Progress
	if err := json.Unmarshal(msg.Data, &progress); err != nil {
		w.metrics.Progress("malformed")
		w.logger.WarnContext(ctx, "dropping malformed progress message", "message_id", msg.ID, "error", err)
		return nil
	}

	user, err := w.users.ApplyProgress(ctx, progress)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInvalidProgress):
		w.metrics.Progress("invalid")
		w.logger.WarnContext(ctx, "dropping invalid progress message", "message_id", msg.ID, "error", err)
		return nil
	case errors.Is(err, store.ErrNotFound):
		w.metrics.Progress("unknown_user")
		w.logger.WarnContext(ctx, "dropping progress for unknown user", "message_id", msg.ID, "user_id", progress.UserID)
		return nil
	default:
		w.metrics.Progress("error")
		errutil.LogError(w.logger, "failed to apply progress", err, "message_id", msg.ID, "user_id", progress.UserID)
		return fmt.Errorf("apply progress for %s: %w", progress.UserID, err)
	}

	w.metrics.Progress("applied")
	w.logger.DebugContext(ctx, "progress applied",
		"user_id", user.ID,
		"questions", user.Questions,
		"rating", user.Rating,
		"streak", user.Streak,
	)
	return nil
}
