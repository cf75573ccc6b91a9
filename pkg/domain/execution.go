package domain

import (
	"time"
)

// ExecutionContext is owned exclusively by one engine run. Concurrent
// executions never share one.
type ExecutionContext struct {
	Email      EmailSnapshot
	Mailbox    Mailbox
	Variables  map[string]string
	IsTestMode bool
}

// TemplateContext exposes the execution state to the template renderer and
// the AI prompt builders as a nested map.
func (c *ExecutionContext) TemplateContext() map[string]any {
	variables := map[string]any{}
	for key, value := range c.Variables {
		variables[key] = value
	}

	return map[string]any{
		"email": map[string]any{
			"id":          c.Email.ID,
			"messageId":   c.Email.MessageID,
			"fromAddress": c.Email.FromAddress,
			"toAddress":   c.Email.ToAddress,
			"subject":     c.Email.Subject,
			"textBody":    c.Email.TextBody,
			"htmlBody":    c.Email.HTMLBody,
		},
		"mailbox": map[string]any{
			"id":      c.Mailbox.ID,
			"address": c.Mailbox.Address,
		},
		"variables": variables,
	}
}

// MergeVariables folds rewrite-produced variables into the context for use
// by downstream nodes.
func (c *ExecutionContext) MergeVariables(variables map[string]string) {
	if len(variables) == 0 {
		return
	}

	if c.Variables == nil {
		c.Variables = map[string]string{}
	}

	for key, value := range variables {
		c.Variables[key] = value
	}
}

type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

type NodeStatus string

const (
	NodeStatusRunning NodeStatus = "RUNNING"
	NodeStatusSuccess NodeStatus = "SUCCESS"
	NodeStatusFailed  NodeStatus = "FAILED"
	NodeStatusSkipped NodeStatus = "SKIPPED"
)

// NodeLogEntry records one node's execution. Created when the node begins,
// finalized once when it ends, immutable after that.
type NodeLogEntry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"executionId"`
	NodeID      string         `json:"nodeId"`
	NodeType    NodeType       `json:"nodeType"`
	Status      NodeStatus     `json:"status"`
	StepOrder   int            `json:"stepOrder"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt,omitzero"`
	Duration    time.Duration  `json:"duration"`
}

// Execution is the top-level record of one workflow run.
type Execution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId,omitempty"`
	MailboxID     string          `json:"mailboxId,omitempty"`
	EmailID       string          `json:"emailId,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Error         string          `json:"error,omitempty"`
	NodesExecuted int             `json:"nodesExecuted"`
	ExecutionPath []string        `json:"executionPath"`
	IsTestRun     bool            `json:"isTestRun,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	FinishedAt    time.Time       `json:"finishedAt"`
}

// ExecutionSummary is a read-only aggregate recomputed from node log
// entries. Never a source of truth.
type ExecutionSummary struct {
	TotalNodes    int           `json:"totalNodes"`
	SuccessCount  int           `json:"successCount"`
	FailedCount   int           `json:"failedCount"`
	SkippedCount  int           `json:"skippedCount"`
	TotalDuration time.Duration `json:"totalDuration"`
	ExecutionPath []string      `json:"executionPath"`
}

// DispatchLogEntry correlates a triggering email to a workflow run attempt.
// Recorded even when dispatch is skipped.
type DispatchLogEntry struct {
	ID         string    `json:"id"`
	EmailID    string    `json:"emailId"`
	MailboxID  string    `json:"mailboxId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	Dispatched bool      `json:"dispatched"`
	SkipReason string    `json:"skipReason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ForwardLogEntry records one delivery attempt to one destination, success
// or failure, keyed by rule and target.
type ForwardLogEntry struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"ruleId,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	EmailID   string          `json:"emailId,omitempty"`
	Type      DestinationType `json:"type"`
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Code      int             `json:"code,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
