package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/pkg/errutil"
	"github.com/brainquiz/apiserver/types"
)

// LeaderboardHandler serves the ranked list of players.
type LeaderboardHandler struct {
	leaders services.LeaderboardReader
	logger  *slog.Logger
}

func NewLeaderboardHandler(leaders services.LeaderboardReader, logger *slog.Logger) *LeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardHandler{leaders: leaders, logger: logger}
}

// LeaderboardResponse lists players by score, highest first.
type LeaderboardResponse struct {
	Success bool           `json:"success"`
	Leaders []types.Leader `json:"leaders"`
}

func (h *LeaderboardHandler) Leaders(w http.ResponseWriter, r *http.Request) {
	leaders, err := h.leaders.Leaders(r.Context())
	if err != nil {
		errutil.LogError(h.logger, "failed to load leaderboard", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if leaders == nil {
		leaders = []types.Leader{}
	}

	writeJSON(w, http.StatusOK, LeaderboardResponse{Success: true, Leaders: leaders})
}
