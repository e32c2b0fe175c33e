package usecase

import (
	"context"
	"fmt"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
	"github.com/toverwu-qaq/opentypeless/internal/ports"
	"github.com/toverwu-qaq/opentypeless/internal/store"
)

const DefaultHistoryLimit = 200

// HistoryRefresher reloads the first page of dictation history.
type HistoryRefresher struct {
	commander ports.Commander
	store     *store.Store
	limit     int
}

func NewHistoryRefresher(commander ports.Commander, st *store.Store, limit int) *HistoryRefresher {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryRefresher{commander: commander, store: st, limit: limit}
}

// Refresh fetches history from the backend. The store is untouched on failure.
func (h *HistoryRefresher) Refresh(ctx context.Context) error {
	var entries []domain.HistoryEntry
	query := domain.HistoryQuery{Limit: h.limit, Offset: 0}
	if err := h.commander.Invoke(ctx, domain.CommandGetHistory, query, &entries); err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	h.store.SetHistory(entries)
	return nil
}
