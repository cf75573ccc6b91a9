package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapormail/vapormail/internal/ingest"
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

func newTestService(logs *store.MemoryStore) *ingest.Service {
	dispatcher := forward.NewDispatcher(forward.DispatcherDeps{
		EgressValidator: allowAllEgress{},
		AttemptLog:      logs,
	})

	return ingest.NewService(ingest.ServiceDeps{
		Engine: engine.New(engine.Deps{
			AIClient:   ai.NewClient(ai.Config{}),
			Dispatcher: dispatcher,
			LogStore:   logs,
		}),
		Dispatcher:   dispatcher,
		DispatchLogs: logs,
	})
}

func TestHandleIncomingNoWorkflow(t *testing.T) {
	logs := store.NewMemoryStore()
	service := newTestService(logs)

	service.HandleIncoming(context.Background(), ingest.IncomingEmail{
		Email:   domain.EmailSnapshot{ID: "email-1"},
		Mailbox: domain.Mailbox{ID: "mb-1"},
	})
	service.Wait()

	entries := logs.DispatchLogs()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Dispatched)
	assert.Equal(t, "no workflow configured", entries[0].SkipReason)
	assert.Equal(t, "email-1", entries[0].EmailID)
}

func TestHandleIncomingInactiveWorkflow(t *testing.T) {
	logs := store.NewMemoryStore()
	service := newTestService(logs)

	service.HandleIncoming(context.Background(), ingest.IncomingEmail{
		Email:   domain.EmailSnapshot{ID: "email-1"},
		Mailbox: domain.Mailbox{ID: "mb-1"},
		Workflow: &ingest.StoredWorkflow{
			ID:     "wf-1",
			Active: false,
		},
	})
	service.Wait()

	entries := logs.DispatchLogs()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Dispatched)
	assert.Equal(t, "workflow inactive", entries[0].SkipReason)
	assert.Equal(t, "wf-1", entries[0].WorkflowID)
}

func TestHandleIncomingRunsWorkflowAndRules(t *testing.T) {
	var forwarded forward.Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&forwarded)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config, err := domain.ParseWorkflowConfig([]byte(`{
		"nodes": [
			{"id": "trigger", "type": "trigger:email"},
			{"id": "notify", "type": "forward:webhook", "data": {"url": "` + server.URL + `"}}
		],
		"edges": [{"source": "trigger", "target": "notify"}]
	}`))
	require.NoError(t, err)

	logs := store.NewMemoryStore()
	service := newTestService(logs)

	service.HandleIncoming(context.Background(), ingest.IncomingEmail{
		Email:   domain.EmailSnapshot{ID: "email-1", Subject: "Invoice #4021", TextBody: "body"},
		Mailbox: domain.Mailbox{ID: "mb-1", Address: "inbox@vapormail.dev"},
		Workflow: &ingest.StoredWorkflow{
			ID:     "wf-1",
			Active: true,
			Config: config,
		},
		Rules: []forward.Rule{
			{
				ID: "rule-1",
				Config: domain.ForwardRuleConfig{
					Version:     domain.ForwardRuleVersion2,
					Destination: &domain.Destination{Type: domain.DestinationWebhook, URL: server.URL},
				},
			},
		},
	})
	service.Wait()

	dispatchEntries := logs.DispatchLogs()
	require.Len(t, dispatchEntries, 1)
	assert.True(t, dispatchEntries[0].Dispatched)
	assert.Equal(t, "wf-1", dispatchEntries[0].WorkflowID)

	// One attempt from the workflow forward node, one from the rule.
	assert.Len(t, logs.ForwardLogs(), 2)
	assert.Equal(t, "Invoice #4021", forwarded.Subject)
}
