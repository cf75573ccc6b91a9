package engine

import (
	"context"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/vapormail/vapormail/pkg/domain"
)

// recorder owns the node log trail of one execution. stepOrder is assigned
// at dispatch time from a counter shared across the whole execution, so the
// trail is a total, reproducible order.
type recorder struct {
	store       domain.ExecutionLogStore
	executionID string
	step        int
	entries     []domain.NodeLogEntry
}

func newRecorder(store domain.ExecutionLogStore, executionID string) *recorder {
	return &recorder{store: store, executionID: executionID}
}

// begin opens a RUNNING entry for the node and returns its index for
// finalization.
func (r *recorder) begin(ctx context.Context, node domain.Node, input map[string]any) int {
	r.step++

	entry := domain.NodeLogEntry{
		ID:          xid.New().String(),
		ExecutionID: r.executionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      domain.NodeStatusRunning,
		StepOrder:   r.step,
		Input:       input,
		StartedAt:   time.Now(),
	}

	r.entries = append(r.entries, entry)
	r.persist(ctx, entry)

	return len(r.entries) - 1
}

// finish seals an entry with its terminal status. Entries are immutable
// after this.
func (r *recorder) finish(ctx context.Context, index int, status domain.NodeStatus, output map[string]any, errMessage string) {
	entry := &r.entries[index]

	entry.Status = status
	entry.Output = output
	entry.Error = errMessage
	entry.FinishedAt = time.Now()
	entry.Duration = entry.FinishedAt.Sub(entry.StartedAt)

	r.persist(ctx, *entry)
}

// skip records a node that was never reachable from the trigger.
func (r *recorder) skip(ctx context.Context, node domain.Node) {
	r.step++

	now := time.Now()
	entry := domain.NodeLogEntry{
		ID:          xid.New().String(),
		ExecutionID: r.executionID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      domain.NodeStatusSkipped,
		StepOrder:   r.step,
		StartedAt:   now,
		FinishedAt:  now,
	}

	r.entries = append(r.entries, entry)
	r.persist(ctx, entry)
}

func (r *recorder) persist(ctx context.Context, entry domain.NodeLogEntry) {
	if r.store == nil {
		return
	}

	if err := r.store.SaveNodeLog(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("execution_id", r.executionID).
			Str("node_id", entry.NodeID).
			Msg("failed to persist node log")
	}
}

// BuildSummary recomputes the aggregate view from the node log entries. The
// entries stay the source of truth.
func BuildSummary(entries []domain.NodeLogEntry, totalDuration time.Duration) domain.ExecutionSummary {
	summary := domain.ExecutionSummary{
		TotalNodes:    len(entries),
		TotalDuration: totalDuration,
		ExecutionPath: []string{},
	}

	for _, entry := range entries {
		switch entry.Status {
		case domain.NodeStatusSuccess:
			summary.SuccessCount++
		case domain.NodeStatusFailed:
			summary.FailedCount++
		case domain.NodeStatusSkipped:
			summary.SkippedCount++
		}

		if entry.Status == domain.NodeStatusSuccess || entry.Status == domain.NodeStatusFailed {
			summary.ExecutionPath = append(summary.ExecutionPath, entry.NodeID)
		}
	}

	return summary
}
