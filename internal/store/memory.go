package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"timetracker/internal/model"
)

// Memory keeps records in process. Used in tests and as the "local" driver.
type Memory struct {
	mu      sync.Mutex
	records map[string]model.Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]model.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(_ context.Context, userID string) (model.Record, error) {
	if err := validUserID(userID); err != nil {
		return model.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[userID]
	if !ok {
		return model.Record{}, ErrNotFound
	}
	return Merge(record, model.Patch{}, record.UpdatedAt), nil
}

func (m *Memory) Set(_ context.Context, userID string, patch model.Patch) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[userID]
	if !ok {
		record = model.NewRecord(userID)
	}
	m.records[userID] = Merge(record, patch, m.now())
	return nil
}

func (m *Memory) List(_ context.Context) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]model.Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, Merge(record, model.Patch{}, record.UpdatedAt))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}
