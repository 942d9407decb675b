package analytics

import (
	"context"
	"time"

	"middleman-guard/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total    int
	ByAction map[string]int
}

// Report aggregates protection activity for a guild since the given time,
// broken down by action type.
func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAntiNukeLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByAction: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByAction[log.ActionType]++
	}
	return report, nil
}
