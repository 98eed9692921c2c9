package college

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"classlog/internal/relstore"
)

// StatTables are the tables behind the admin stat cards, in display order.
var StatTables = []string{"students", "faculty", "departments", "classes", "subjects", "assignments"}

// Stats holds one exact row count per card.
type Stats struct {
	Students    int `json:"students"`
	Faculty     int `json:"faculty"`
	Departments int `json:"departments"`
	Classes     int `json:"classes"`
	Subjects    int `json:"subjects"`
	Assignments int `json:"assignments"`
}

// LoadStats counts every card concurrently. A failed count is logged and shows as 0.
func LoadStats(ctx context.Context, store relstore.Client, log *zap.Logger) Stats {
	if log == nil {
		log = zap.NewNop()
	}
	counts := make([]int, len(StatTables))
	var wg sync.WaitGroup
	for i, table := range StatTables {
		wg.Add(1)
		go func(i int, table string) {
			defer wg.Done()
			n, err := store.Count(ctx, table)
			if err != nil {
				log.Warn("stat count failed", zap.String("table", table), zap.Error(err))
				return
			}
			counts[i] = n
		}(i, table)
	}
	wg.Wait()

	return Stats{
		Students:    counts[0],
		Faculty:     counts[1],
		Departments: counts[2],
		Classes:     counts[3],
		Subjects:    counts[4],
		Assignments: counts[5],
	}
}
