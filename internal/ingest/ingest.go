// Package ingest is the seam between the (external) mail ingestion pipeline
// and the automation engine. Workflow runs and forward-rule evaluation are
// fire-and-forget relative to email persistence: failures are logged, never
// re-raised, and never block acknowledgement of the inbound email.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/vapormail/vapormail/pkg/domain"
	"github.com/vapormail/vapormail/pkg/engine"
	"github.com/vapormail/vapormail/pkg/forward"
)

// StoredWorkflow is the mailbox's workflow as handed over by the (external)
// configuration store: an immutable snapshot per run.
type StoredWorkflow struct {
	ID     string
	Active bool
	Config domain.WorkflowConfig
}

type Service struct {
	engine       *engine.Engine
	dispatcher   *forward.Dispatcher
	dispatchLogs domain.DispatchLogStore

	wg sync.WaitGroup
}

type ServiceDeps struct {
	Engine       *engine.Engine
	Dispatcher   *forward.Dispatcher
	DispatchLogs domain.DispatchLogStore
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		engine:       deps.Engine,
		dispatcher:   deps.Dispatcher,
		dispatchLogs: deps.DispatchLogs,
	}
}

type IncomingEmail struct {
	Email    domain.EmailSnapshot
	Mailbox  domain.Mailbox
	Workflow *StoredWorkflow
	Rules    []forward.Rule
}

// HandleIncoming records the dispatch decision synchronously and spawns the
// actual work detached. The dispatch log row exists even when nothing runs,
// so "why didn't my workflow fire" stays answerable.
func (s *Service) HandleIncoming(ctx context.Context, incoming IncomingEmail) {
	entry := domain.DispatchLogEntry{
		ID:        xid.New().String(),
		EmailID:   incoming.Email.ID,
		MailboxID: incoming.Mailbox.ID,
		CreatedAt: time.Now(),
	}

	switch {
	case incoming.Workflow == nil:
		entry.SkipReason = "no workflow configured"
	case !incoming.Workflow.Active:
		entry.WorkflowID = incoming.Workflow.ID
		entry.SkipReason = "workflow inactive"
	default:
		entry.WorkflowID = incoming.Workflow.ID
		entry.Dispatched = true
	}

	if err := s.dispatchLogs.SaveDispatchLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("email_id", incoming.Email.ID).Msg("failed to record dispatch log")
	}

	if entry.Dispatched {
		workflow := *incoming.Workflow
		s.spawn(func(runCtx context.Context) {
			s.engine.Execute(runCtx, engine.ExecuteParams{
				WorkflowID: workflow.ID,
				Config:     workflow.Config,
				Context: &domain.ExecutionContext{
					Email:     incoming.Email,
					Mailbox:   incoming.Mailbox,
					Variables: map[string]string{},
				},
			})
		})
	}

	for _, rule := range incoming.Rules {
		rule := rule
		s.spawn(func(runCtx context.Context) {
			s.dispatcher.RunRule(runCtx, rule, incoming.Email, incoming.Mailbox)
		})
	}
}

// spawn runs fn detached with panic containment. The detached run gets its
// own context: the ingestion caller returning must not cancel in-flight
// automation.
func (s *Service) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("detached automation task panicked")
			}
		}()

		fn(context.Background())
	}()
}

// Wait blocks until all detached tasks finish. Shutdown uses it so node
// logs are finalized before the process exits.
func (s *Service) Wait() {
	s.wg.Wait()
}
