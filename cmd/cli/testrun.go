package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vapormail/vapormail/internal/config"
	"github.com/vapormail/vapormail/internal/egress"
	"github.com/vapormail/vapormail/internal/store"
	"github.com/vapormail/vapormail/pkg/ai"
	"github.com/vapormail/vapormail/pkg/domain"
	"github.com/vapormail/vapormail/pkg/engine"
	"github.com/vapormail/vapormail/pkg/forward"
)

// testRunOutput is the structured report printed after a synchronous test
// execution.
type testRunOutput struct {
	Success   bool                    `json:"success"`
	Execution executionReport         `json:"execution"`
	NodeLogs  []domain.NodeLogEntry   `json:"nodeLogs"`
	Summary   domain.ExecutionSummary `json:"summary"`
	TestInput testInputReport         `json:"testInput"`
}

type executionReport struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	NodesExecuted int       `json:"nodesExecuted"`
	ExecutionPath []string  `json:"executionPath"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

type testInputReport struct {
	Subject     string `json:"subject"`
	FromAddress string `json:"fromAddress"`
}

func NewTestRunCommand() *cobra.Command {
	var workflowPath string
	var emailPath string
	var mailboxAddress string

	cmd := &cobra.Command{
		Use:   "test-run",
		Short: "Run a workflow synchronously against a sample email",
		Long: `Runs the given workflow against a sample email in test mode and prints
the full execution trace as JSON. AI nodes use deterministic fallbacks,
so the run makes no model calls; forward destinations are contacted for
real, with the message subject prefixed by [TEST].`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestRun(cmd, workflowPath, emailPath, mailboxAddress)
		},
	}

	cmd.Flags().StringVar(&workflowPath, "workflow", "", "Path to the workflow config JSON (required)")
	cmd.Flags().StringVar(&emailPath, "email", "", "Path to the sample email JSON (required)")
	cmd.Flags().StringVar(&mailboxAddress, "mailbox", "test@vapormail.local", "Mailbox address the run is attributed to")
	cmd.MarkFlagRequired("workflow")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runTestRun(cmd *cobra.Command, workflowPath, emailPath, mailboxAddress string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workflowRaw, err := os.ReadFile(workflowPath)
	if err != nil {
		return fmt.Errorf("failed to read workflow file: %w", err)
	}

	workflowConfig, err := domain.ParseWorkflowConfig(workflowRaw)
	if err != nil {
		return fmt.Errorf("invalid workflow config: %w", err)
	}

	emailRaw, err := os.ReadFile(emailPath)
	if err != nil {
		return fmt.Errorf("failed to read email file: %w", err)
	}

	var email domain.EmailSnapshot
	if err := json.Unmarshal(emailRaw, &email); err != nil {
		return fmt.Errorf("invalid email JSON: %w", err)
	}
	if email.ID == "" {
		email.ID = "test-email"
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now()
	}
	// Recipients can tell apart test traffic from real forwards.
	email.Subject = "[TEST] " + email.Subject

	logs := store.NewMemoryStore()

	dispatcher := forward.NewDispatcher(forward.DispatcherDeps{
		EgressValidator: egress.NewValidator(),
		AttemptLog:      logs,
		Email: forward.EmailConfig{
			APIKey:      cfg.ResendAPIKey,
			FromAddress: cfg.ForwardFromAddress,
		},
	})

	eng := engine.New(engine.Deps{
		AIClient: ai.NewClient(ai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}),
		Dispatcher: dispatcher,
		LogStore:   logs,
	})

	result := eng.Execute(cmd.Context(), engine.ExecuteParams{
		WorkflowID: "test-run",
		Config:     workflowConfig,
		Context: &domain.ExecutionContext{
			Email:      email,
			Mailbox:    domain.Mailbox{ID: "test-mailbox", Address: mailboxAddress},
			Variables:  map[string]string{},
			IsTestMode: true,
		},
	})

	output := testRunOutput{
		Success: result.Success,
		Execution: executionReport{
			ID:            result.Execution.ID,
			Status:        string(result.Execution.Status),
			Error:         result.Execution.Error,
			NodesExecuted: result.Execution.NodesExecuted,
			ExecutionPath: result.Execution.ExecutionPath,
			StartedAt:     result.Execution.StartedAt,
			FinishedAt:    result.Execution.FinishedAt,
		},
		NodeLogs: result.NodeLogs,
		Summary:  result.Summary,
		TestInput: testInputReport{
			Subject:     email.Subject,
			FromAddress: email.FromAddress,
		},
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	if !result.Success {
		os.Exit(1)
	}

	return nil
}
