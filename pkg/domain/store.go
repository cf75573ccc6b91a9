package domain

import "context"

// The automation core does not own persistence. These interfaces are the
// contract with the external storage layer; in-memory implementations live
// in internal/store for tests and the CLI.
//
// Caller contract: the storage layer is expected to sweep entries left
// RUNNING by an interrupted process; the engine finalizes every entry it can
// before returning, but partially written logs after a hard kill are valid.

type ExecutionLogStore interface {
	SaveExecution(ctx context.Context, execution Execution) error
	SaveNodeLog(ctx context.Context, entry NodeLogEntry) error
	NodeLogs(ctx context.Context, executionID string) ([]NodeLogEntry, error)
}

type DispatchLogStore interface {
	SaveDispatchLog(ctx context.Context, entry DispatchLogEntry) error
}

type ForwardLogStore interface {
	SaveForwardLog(ctx context.Context, entry ForwardLogEntry) error
}
