package tagr

import (
	"context"
	"fmt"

	"tagr/internal/model"
)

// appendHistory writes the single history record every item mutation must
// produce. Parent1 is the item's previously-latest record, read inside the
// same transaction so the per-item chain stays totally ordered.
func appendHistory(ctx context.Context, s Session, env *Env, item *model.Item, op model.HistoryOperation, actingUser string) (*model.HistoryRec, error) {
	latest, err := s.LatestHistoryRec(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("reading latest history record: %w", err)
	}

	rec := &model.HistoryRec{
		ItemID:    item.ID,
		Operation: op,
		UserLogin: actingUser,
		CreatedAt: env.Clock.Now(),
		ItemHash:  computeItemHash(item),
	}
	if item.DataRef != nil {
		rec.DataRefHash = item.DataRef.Hash
		rec.DataRefURL = item.DataRef.URL
	}
	if latest != nil {
		rec.Parent1ID = latest.ID
	}

	id, err := s.InsertHistoryRec(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("inserting history record: %w", err)
	}
	rec.ID = id
	return rec, nil
}
