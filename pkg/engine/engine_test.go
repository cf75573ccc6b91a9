package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapormail/vapormail/internal/store"
	"github.com/vapormail/vapormail/pkg/ai"
	"github.com/vapormail/vapormail/pkg/domain"
	"github.com/vapormail/vapormail/pkg/engine"
	"github.com/vapormail/vapormail/pkg/forward"
)

type allowAllEgress struct{}

func (allowAllEgress) ValidateEgressURL(ctx context.Context, rawURL string) (string, error) {
	return rawURL, nil
}

func newTestEngine(logs *store.MemoryStore) *engine.Engine {
	return engine.New(engine.Deps{
		AIClient: ai.NewClient(ai.Config{}),
		Dispatcher: forward.NewDispatcher(forward.DispatcherDeps{
			EgressValidator: allowAllEgress{},
			AttemptLog:      logs,
		}),
		LogStore: logs,
	})
}

func testContext(email domain.EmailSnapshot) *domain.ExecutionContext {
	return &domain.ExecutionContext{
		Email:      email,
		Mailbox:    domain.Mailbox{ID: "mb-1", Address: "inbox@vapormail.dev"},
		Variables:  map[string]string{},
		IsTestMode: true,
	}
}

func mustConfig(t *testing.T, raw string) domain.WorkflowConfig {
	t.Helper()

	config, err := domain.ParseWorkflowConfig([]byte(raw))
	require.NoError(t, err)

	return config
}

func logForNode(entries []domain.NodeLogEntry, nodeID string) (domain.NodeLogEntry, bool) {
	for _, entry := range entries {
		if entry.NodeID == nodeID {
			return entry, true
		}
	}

	return domain.NodeLogEntry{}, false
}

func TestExecuteClassifierRoutesByCategory(t *testing.T) {
	var forwarded forward.Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&forwarded))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "classify", "type": "condition:ai_classifier", "data": {"categories": ["invoice", "spam"], "defaultCategory": "other"}},
			{"id": "notify", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}},
			{"id": "trash", "type": "forward:webhook", "data": {"url": "https://hooks.example.com/trash"}}
		],
		"edges": [
			{"source": "trigger", "target": "classify"},
			{"source": "classify", "target": "notify", "label": "invoice"},
			{"source": "classify", "target": "trash", "label": "spam"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1", Subject: "Invoice #4021", TextBody: "Total due: $120.00"}),
	})

	assert.True(t, result.Success)
	assert.Equal(t, domain.ExecutionStatusSuccess, result.Execution.Status)
	assert.Equal(t, 3, result.Execution.NodesExecuted)
	assert.Equal(t, []string{"trigger", "classify", "notify"}, result.Summary.ExecutionPath)
	assert.Equal(t, "Invoice #4021", forwarded.Subject)

	classify, ok := logForNode(result.NodeLogs, "classify")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusSuccess, classify.Status)
	assert.Equal(t, "invoice", classify.Output["category"])

	// The spam branch was not taken: its forward gets a SKIPPED entry only
	// if unreachable from the trigger, which it is not. It simply has no
	// terminal entry.
	_, ran := logForNode(result.NodeLogs, "trash")
	assert.False(t, ran)

	attempts := logs.ForwardLogs()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "notify", attempts[0].TargetID)
	assert.Equal(t, "email-1", attempts[0].EmailID)
}

func TestExecuteClassifierUntakenBranchHasNoActionLogs(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "classify", "type": "condition:ai_classifier", "data": {"categories": ["invoice", "spam"], "defaultCategory": "other"}},
			{"id": "notify", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}}
		],
		"edges": [
			{"source": "trigger", "target": "classify"},
			{"source": "classify", "target": "notify", "label": "invoice"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1", Subject: "win free spam now"}),
	})

	assert.True(t, result.Success)
	assert.Zero(t, calls)
	assert.Empty(t, logs.ForwardLogs())

	classify, ok := logForNode(result.NodeLogs, "classify")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusSuccess, classify.Status)
	assert.Equal(t, "spam", classify.Output["category"])

	_, ran := logForNode(result.NodeLogs, "notify")
	assert.False(t, ran)
}

func TestExecuteMatchNodeFalseBranch(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "check", "type": "condition:match", "data": {"condition": {"type": "match", "field": "subject", "operator": "contains", "value": "invoice"}}},
			{"id": "notify", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}}
		],
		"edges": [
			{"source": "trigger", "target": "check"},
			{"source": "check", "target": "notify", "label": "true"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1", Subject: "weekly digest"}),
	})

	// No edge matches "false": the branch ends cleanly, without an error.
	assert.True(t, result.Success)
	assert.Zero(t, calls)
	assert.Equal(t, []string{"trigger", "check"}, result.Summary.ExecutionPath)

	check, ok := logForNode(result.NodeLogs, "check")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusSuccess, check.Status)
	assert.Equal(t, false, check.Output["result"])

	assert.Empty(t, logs.ForwardLogs())
}

func TestExecuteRewriteUpdatesDownstreamForward(t *testing.T) {
	var forwarded forward.Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&forwarded))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "rewrite", "type": "action:ai_rewrite", "data": {"fields": ["subject", "textBody"], "prompt": "shorten", "writeTarget": "email"}},
			{"id": "notify", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}}
		],
		"edges": [
			{"source": "trigger", "target": "rewrite"},
			{"source": "rewrite", "target": "notify"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1", Subject: "Invoice #4021", TextBody: "Total due: $120.00"}),
	})

	assert.True(t, result.Success)
	// Test mode produces the synthetic rewrite, which the forward then sees.
	assert.Equal(t, "[AI] Invoice #4021", forwarded.Subject)
	assert.Equal(t, "[AI rewritten]\nTotal due: $120.00", forwarded.TextBody)
}

func TestExecuteForwardFailureDoesNotStopTraversal(t *testing.T) {
	var secondCalled bool

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failServer.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "first", "type": "forward:webhook", "data": {"url": "`+failServer.URL+`"}},
			{"id": "second", "type": "forward:webhook", "data": {"url": "`+okServer.URL+`"}}
		],
		"edges": [
			{"source": "trigger", "target": "first"},
			{"source": "first", "target": "second"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1", Subject: "hello"}),
	})

	// The run completes but reports the failed action.
	assert.False(t, result.Success)
	assert.Equal(t, domain.ExecutionStatusSuccess, result.Execution.Status)
	assert.True(t, secondCalled)
	assert.Equal(t, 1, result.Summary.FailedCount)
	assert.Equal(t, 2, result.Summary.SuccessCount)

	first, ok := logForNode(result.NodeLogs, "first")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusFailed, first.Status)
	assert.NotEmpty(t, first.Error)
}

func TestExecuteMarksUnreachableNodesSkipped(t *testing.T) {
	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "island", "type": "forward:webhook", "data": {"url": "https://hooks.example.com/x"}}
		],
		"edges": []
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1"}),
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Summary.SkippedCount)

	island, ok := logForNode(result.NodeLogs, "island")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusSkipped, island.Status)
	assert.NotContains(t, result.Summary.ExecutionPath, "island")
}

func TestExecuteCycleRunsEachNodeOnce(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "a", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}},
			{"id": "b", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}}
		],
		"edges": [
			{"source": "trigger", "target": "a"},
			{"source": "a", "target": "b"},
			{"source": "b", "target": "a"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1"}),
	})

	assert.True(t, result.Success)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, result.Execution.NodesExecuted)
}

func TestExecuteWithoutTrigger(t *testing.T) {
	// Only reachable by bypassing config parsing.
	config := domain.WorkflowConfig{
		Nodes: []domain.Node{{ID: "lonely", Type: domain.NodeTypeForwardWebhook}},
	}

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1"}),
	})

	assert.False(t, result.Success)
	assert.Equal(t, domain.ExecutionStatusFailed, result.Execution.Status)
	assert.Equal(t, "workflow has no trigger node", result.Execution.Error)
}

func TestExecutePersistsStepOrderedNodeLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := mustConfig(t, `{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "check", "type": "condition:match", "data": {"condition": {"type": "and", "conditions": []}}},
			{"id": "notify", "type": "forward:webhook", "data": {"url": "`+server.URL+`"}}
		],
		"edges": [
			{"source": "trigger", "target": "check"},
			{"source": "check", "target": "notify", "label": "true"}
		]
	}`)

	logs := store.NewMemoryStore()
	eng := newTestEngine(logs)

	result := eng.Execute(context.Background(), engine.ExecuteParams{
		WorkflowID: "wf-1",
		Config:     config,
		Context:    testContext(domain.EmailSnapshot{ID: "email-1", Subject: "hello"}),
	})

	require.True(t, result.Success)

	persisted, err := logs.NodeLogs(context.Background(), result.Execution.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 3)

	for i, entry := range persisted {
		assert.Equal(t, i+1, entry.StepOrder)
		assert.Equal(t, result.Execution.ID, entry.ExecutionID)
		assert.NotEqual(t, domain.NodeStatusRunning, entry.Status)
		assert.NotEmpty(t, entry.ID)
	}

	execution, found := logs.Execution(result.Execution.ID)
	require.True(t, found)
	assert.Equal(t, domain.ExecutionStatusSuccess, execution.Status)
	assert.True(t, execution.IsTestRun)
}
