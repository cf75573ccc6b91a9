// Package store holds in-memory implementations of the persistence
// contracts in pkg/domain. Production deployments plug in the real storage
// layer; tests and the CLI use these.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vapormail/vapormail/pkg/domain"
)

type MemoryStore struct {
	mu           sync.Mutex
	executions   map[string]domain.Execution
	nodeLogs     map[string][]domain.NodeLogEntry
	dispatchLogs []domain.DispatchLogEntry
	forwardLogs  []domain.ForwardLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: map[string]domain.Execution{},
		nodeLogs:   map[string][]domain.NodeLogEntry{},
	}
}

func (s *MemoryStore) SaveExecution(ctx context.Context, execution domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[execution.ID] = execution
	return nil
}

// SaveNodeLog upserts by entry ID: entries are written RUNNING and
// finalized in place.
func (s *MemoryStore) SaveNodeLog(ctx context.Context, entry domain.NodeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.nodeLogs[entry.ExecutionID]

	for i, existing := range entries {
		if existing.ID == entry.ID {
			entries[i] = entry
			return nil
		}
	}

	s.nodeLogs[entry.ExecutionID] = append(entries, entry)
	return nil
}

func (s *MemoryStore) NodeLogs(ctx context.Context, executionID string) ([]domain.NodeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.NodeLogEntry, len(s.nodeLogs[executionID]))
	copy(entries, s.nodeLogs[executionID])

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StepOrder < entries[j].StepOrder
	})

	return entries, nil
}

func (s *MemoryStore) SaveDispatchLog(ctx context.Context, entry domain.DispatchLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dispatchLogs = append(s.dispatchLogs, entry)
	return nil
}

func (s *MemoryStore) SaveForwardLog(ctx context.Context, entry domain.ForwardLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forwardLogs = append(s.forwardLogs, entry)
	return nil
}

func (s *MemoryStore) Execution(id string) (domain.Execution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[id]
	return execution, ok
}

func (s *MemoryStore) DispatchLogs() []domain.DispatchLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.DispatchLogEntry, len(s.dispatchLogs))
	copy(entries, s.dispatchLogs)
	return entries
}

func (s *MemoryStore) ForwardLogs() []domain.ForwardLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.ForwardLogEntry, len(s.forwardLogs))
	copy(entries, s.forwardLogs)
	return entries
}
