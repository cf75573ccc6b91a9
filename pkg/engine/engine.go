// Package engine walks a validated workflow graph for one inbound email:
// it resolves the trigger, routes condition and classifier outcomes along
// labeled edges, runs rewrite and forward actions, and leaves behind a
// step-ordered execution trace that reconstructs what happened and why.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vapormail/vapormail/pkg/ai"
	"github.com/vapormail/vapormail/pkg/condition"
	"github.com/vapormail/vapormail/pkg/domain"
	"github.com/vapormail/vapormail/pkg/forward"
	"github.com/vapormail/vapormail/pkg/template"
)

type Engine struct {
	ai         *ai.Client
	dispatcher *forward.Dispatcher
	logs       domain.ExecutionLogStore
}

type Deps struct {
	AIClient   *ai.Client
	Dispatcher *forward.Dispatcher
	LogStore   domain.ExecutionLogStore
}

func New(deps Deps) *Engine {
	return &Engine{
		ai:         deps.AIClient,
		dispatcher: deps.Dispatcher,
		logs:       deps.LogStore,
	}
}

type ExecuteParams struct {
	WorkflowID string
	Config     domain.WorkflowConfig
	Context    *domain.ExecutionContext
}

type ExecuteResult struct {
	Success   bool                    `json:"success"`
	Execution domain.Execution        `json:"execution"`
	NodeLogs  []domain.NodeLogEntry   `json:"nodeLogs"`
	Summary   domain.ExecutionSummary `json:"summary"`
}

// nodeOutcome is what one node run hands back to the traversal loop.
type nodeOutcome struct {
	status     domain.NodeStatus
	output     map[string]any
	errMessage string
	next       []domain.Edge
}

// Execute runs the workflow to completion. It never propagates node errors:
// the caller always receives a completed execution record, even when every
// node failed.
func (e *Engine) Execute(ctx context.Context, p ExecuteParams) ExecuteResult {
	executionID := uuid.NewString()
	startedAt := time.Now()

	rec := newRecorder(e.logs, executionID)

	execution := domain.Execution{
		ID:         executionID,
		WorkflowID: p.WorkflowID,
		MailboxID:  p.Context.Mailbox.ID,
		EmailID:    p.Context.Email.ID,
		Status:     domain.ExecutionStatusRunning,
		IsTestRun:  p.Context.IsTestMode,
		StartedAt:  startedAt,
	}

	trigger, ok := p.Config.TriggerNode()
	if !ok {
		// Validation rejects trigger-less configs; this only fires when a
		// caller bypasses ParseWorkflowConfig.
		execution.Status = domain.ExecutionStatusFailed
		execution.Error = "workflow has no trigger node"
		execution.FinishedAt = time.Now()
		e.saveExecution(ctx, execution)

		return ExecuteResult{
			Execution: execution,
			NodeLogs:  []domain.NodeLogEntry{},
			Summary:   BuildSummary(nil, time.Since(startedAt)),
		}
	}

	queue := []string{trigger.ID}
	executed := map[string]struct{}{}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			execution.Status = domain.ExecutionStatusFailed
			execution.Error = err.Error()
			break
		}

		nodeID := queue[0]
		queue = queue[1:]

		if _, done := executed[nodeID]; done {
			continue
		}
		executed[nodeID] = struct{}{}

		node, found := p.Config.NodeByID(nodeID)
		if !found {
			continue
		}

		index := rec.begin(ctx, node, nodeInput(p.Context))

		outcome := e.runNode(ctx, node, p.Config, p.Context)

		rec.finish(ctx, index, outcome.status, outcome.output, outcome.errMessage)

		// A failed action does not stop traversal; an unexpected node error
		// returns no next edges, halting only that branch.
		for _, edge := range outcome.next {
			queue = append(queue, edge.Target)
		}
	}

	// Nodes with no inbound reachability from the trigger are never invoked.
	reachable := p.Config.ReachableNodeIDs()
	for _, node := range p.Config.Nodes {
		if _, isReachable := reachable[node.ID]; !isReachable {
			rec.skip(ctx, node)
		}
	}

	summary := BuildSummary(rec.entries, time.Since(startedAt))

	if execution.Status == domain.ExecutionStatusRunning {
		execution.Status = domain.ExecutionStatusSuccess
	}
	execution.NodesExecuted = len(executed)
	execution.ExecutionPath = summary.ExecutionPath
	execution.FinishedAt = time.Now()

	e.saveExecution(ctx, execution)

	return ExecuteResult{
		Success:   execution.Status == domain.ExecutionStatusSuccess && summary.FailedCount == 0,
		Execution: execution,
		NodeLogs:  rec.entries,
		Summary:   summary,
	}
}

// runNode executes one node with panic containment: an unexpected panic is
// recorded as a FAILED node and traversal halts along that node's own
// downstream edges only.
func (e *Engine) runNode(ctx context.Context, node domain.Node, config domain.WorkflowConfig, execCtx *domain.ExecutionContext) (outcome nodeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("node_id", node.ID).
				Str("node_type", string(node.Type)).
				Interface("panic", r).
				Msg("node execution panicked")

			outcome = nodeOutcome{
				status:     domain.NodeStatusFailed,
				errMessage: fmt.Sprintf("unexpected error: %v", r),
			}
		}
	}()

	switch {
	case node.Type.IsTrigger():
		return nodeOutcome{
			status: domain.NodeStatusSuccess,
			output: map[string]any{"event": string(node.Type)},
			next:   config.OutgoingEdges(node.ID),
		}

	case node.Type == domain.NodeTypeConditionMatch:
		return e.runMatchNode(node, config, execCtx)

	case node.Type == domain.NodeTypeConditionAIClassifier:
		return e.runClassifierNode(ctx, node, config, execCtx)

	case node.Type == domain.NodeTypeActionAIRewrite:
		return e.runRewriteNode(ctx, node, config, execCtx)

	case node.Type.IsForward():
		return e.runForwardNode(ctx, node, config, execCtx)

	default:
		// Unreachable for validated configs.
		return nodeOutcome{
			status:     domain.NodeStatusFailed,
			errMessage: fmt.Sprintf("no executor for node type %q", node.Type),
		}
	}
}

func (e *Engine) runMatchNode(node domain.Node, config domain.WorkflowConfig, execCtx *domain.ExecutionContext) nodeOutcome {
	var data domain.MatchNodeData
	if err := json.Unmarshal(node.Data, &data); err != nil {
		return nodeOutcome{status: domain.NodeStatusFailed, errMessage: fmt.Sprintf("invalid match node data: %v", err)}
	}

	result := condition.Evaluate(data.Condition, execCtx.Email)
	label := strconv.FormatBool(result)

	// No matching edge means no action is configured for this outcome; the
	// branch ends without an error.
	return nodeOutcome{
		status: domain.NodeStatusSuccess,
		output: map[string]any{"result": result},
		next:   edgesWithLabel(config.OutgoingEdges(node.ID), label),
	}
}

func (e *Engine) runClassifierNode(ctx context.Context, node domain.Node, config domain.WorkflowConfig, execCtx *domain.ExecutionContext) nodeOutcome {
	var data domain.ClassifierNodeData
	if err := json.Unmarshal(node.Data, &data); err != nil {
		return nodeOutcome{status: domain.NodeStatusFailed, errMessage: fmt.Sprintf("invalid classifier node data: %v", err)}
	}

	category := e.ai.Classify(ctx, ai.ClassifyParams{
		Categories:          data.Categories,
		DefaultCategory:     data.DefaultCategory,
		ConfidenceThreshold: data.ConfidenceThreshold,
		CustomPrompt:        data.CustomPrompt,
	}, execCtx)

	return nodeOutcome{
		status: domain.NodeStatusSuccess,
		output: map[string]any{"category": category},
		next:   edgesWithLabel(config.OutgoingEdges(node.ID), category),
	}
}

func (e *Engine) runRewriteNode(ctx context.Context, node domain.Node, config domain.WorkflowConfig, execCtx *domain.ExecutionContext) nodeOutcome {
	var data domain.RewriteNodeData
	if err := json.Unmarshal(node.Data, &data); err != nil {
		return nodeOutcome{status: domain.NodeStatusFailed, errMessage: fmt.Sprintf("invalid rewrite node data: %v", err)}
	}

	result := e.ai.Rewrite(ctx, ai.RewriteParams{
		Fields:      data.Fields,
		Prompt:      data.Prompt,
		WriteTarget: data.WriteTarget,
	}, execCtx)

	if data.WriteTarget == domain.RewriteTargetVariables || data.WriteTarget == domain.RewriteTargetBoth {
		execCtx.MergeVariables(result.Variables)
	}

	// Partial updates only: nil fields were not addressed by the model.
	if data.WriteTarget == domain.RewriteTargetEmail || data.WriteTarget == domain.RewriteTargetBoth {
		if result.Subject != nil {
			execCtx.Email.Subject = *result.Subject
		}
		if result.TextBody != nil {
			execCtx.Email.TextBody = *result.TextBody
		}
		if result.HTMLBody != nil {
			execCtx.Email.HTMLBody = *result.HTMLBody
		}
	}

	output := map[string]any{}
	if result.Subject != nil {
		output["subject"] = *result.Subject
	}
	if result.TextBody != nil {
		output["textBody"] = *result.TextBody
	}
	if len(result.Variables) > 0 {
		output["variables"] = result.Variables
	}
	if result.Reasoning != "" {
		output["reasoning"] = result.Reasoning
	}

	return nodeOutcome{
		status: domain.NodeStatusSuccess,
		output: output,
		next:   config.OutgoingEdges(node.ID),
	}
}

func (e *Engine) runForwardNode(ctx context.Context, node domain.Node, config domain.WorkflowConfig, execCtx *domain.ExecutionContext) nodeOutcome {
	var data domain.ForwardNodeData
	if err := json.Unmarshal(node.Data, &data); err != nil {
		return nodeOutcome{status: domain.NodeStatusFailed, errMessage: fmt.Sprintf("invalid forward node data: %v", err)}
	}

	destination := data.Destination
	destination.Type = domain.DestinationTypeForNode(node.Type)

	renderCtx := execCtx.TemplateContext()

	textBody := execCtx.Email.TextBody
	if data.Template != "" {
		textBody = template.Render(data.Template, renderCtx)
	}

	result := e.dispatcher.Dispatch(ctx, forward.Attempt{
		TargetID:    node.ID,
		EmailID:     execCtx.Email.ID,
		Destination: destination,
		Message: forward.Message{
			Subject:  execCtx.Email.Subject,
			TextBody: textBody,
			HTMLBody: execCtx.Email.HTMLBody,
		},
	})

	status := domain.NodeStatusSuccess
	errMessage := ""
	if !result.Success {
		status = domain.NodeStatusFailed
		errMessage = result.Message
	}

	output := map[string]any{
		"success": result.Success,
		"message": result.Message,
	}
	if result.Code != 0 {
		output["code"] = result.Code
	}

	// Action failures are logged, not fatal: downstream nodes still run.
	return nodeOutcome{
		status:     status,
		output:     output,
		errMessage: errMessage,
		next:       config.OutgoingEdges(node.ID),
	}
}

func edgesWithLabel(edges []domain.Edge, label string) []domain.Edge {
	var matched []domain.Edge

	for _, edge := range edges {
		if edge.Label == label {
			matched = append(matched, edge)
		}
	}

	return matched
}

func nodeInput(execCtx *domain.ExecutionContext) map[string]any {
	variables := map[string]string{}
	for key, value := range execCtx.Variables {
		variables[key] = value
	}

	return map[string]any{
		"emailId":   execCtx.Email.ID,
		"subject":   execCtx.Email.Subject,
		"variables": variables,
	}
}

func (e *Engine) saveExecution(ctx context.Context, execution domain.Execution) {
	if e.logs == nil {
		return
	}

	if err := e.logs.SaveExecution(ctx, execution); err != nil {
		log.Error().Err(err).Str("execution_id", execution.ID).Msg("failed to persist execution")
	}
}
