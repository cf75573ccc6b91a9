// Package forward delivers messages to the configured destinations: email,
// Telegram, Discord, Slack and generic webhooks. Every operator-supplied URL
// passes the egress safety check before any network call, outbound HTTP uses
// a fixed 10s timeout, and redirects are treated as failures.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/resend/resend-go/v2"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/vapormail/vapormail/pkg/domain"
)

const dispatchTimeout = 10 * time.Second

// Message is the rendered content handed to a channel sender.
type Message struct {
	Subject  string `json:"subject"`
	TextBody string `json:"textBody"`
	HTMLBody string `json:"htmlBody,omitempty"`
}

// DispatchResult is the uniform 3-field outcome of one delivery attempt, the
// same shape for every channel.
type DispatchResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// Attempt is one delivery to one destination, with the correlation keys the
// attempt log is recorded under.
type Attempt struct {
	RuleID      string
	TargetID    string
	EmailID     string
	Destination domain.Destination
	Message     Message
}

type EmailConfig struct {
	APIKey      string
	FromAddress string
}

type Dispatcher struct {
	egress     domain.EgressValidator
	client     *http.Client
	emails     *resend.Client
	emailFrom  string
	attemptLog domain.ForwardLogStore
}

type DispatcherDeps struct {
	EgressValidator domain.EgressValidator
	AttemptLog      domain.ForwardLogStore
	Email           EmailConfig

	// HTTPClient overrides the default outbound client; tests use it.
	HTTPClient *http.Client
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: dispatchTimeout,
			// Redirect responses are returned as-is and treated as
			// failures: following them would sidestep the egress check.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	var emails *resend.Client
	if deps.Email.APIKey != "" {
		emails = resend.NewClient(deps.Email.APIKey)
	}

	return &Dispatcher{
		egress:     deps.EgressValidator,
		client:     client,
		emails:     emails,
		emailFrom:  deps.Email.FromAddress,
		attemptLog: deps.AttemptLog,
	}
}

// Dispatch runs one delivery attempt and records it, success or failure, in
// the attempt log. It never returns an error; failures are carried in the
// result.
func (d *Dispatcher) Dispatch(ctx context.Context, attempt Attempt) DispatchResult {
	var result DispatchResult

	switch attempt.Destination.Type {
	case domain.DestinationEmail:
		result = d.sendEmail(ctx, attempt.Destination, attempt.Message)
	case domain.DestinationTelegram:
		result = d.sendTelegram(ctx, attempt.Destination, attempt.Message)
	case domain.DestinationDiscord:
		result = d.sendDiscord(ctx, attempt.Destination, attempt.Message)
	case domain.DestinationSlack:
		result = d.sendSlack(ctx, attempt.Destination, attempt.Message)
	case domain.DestinationWebhook:
		result = d.sendWebhook(ctx, attempt.Destination, attempt.Message)
	default:
		result = DispatchResult{Success: false, Message: fmt.Sprintf("unknown destination type %q", attempt.Destination.Type)}
	}

	d.recordAttempt(ctx, attempt, result)

	return result
}

func (d *Dispatcher) recordAttempt(ctx context.Context, attempt Attempt, result DispatchResult) {
	if d.attemptLog == nil {
		return
	}

	entry := domain.ForwardLogEntry{
		ID:        xid.New().String(),
		RuleID:    attempt.RuleID,
		TargetID:  attempt.TargetID,
		EmailID:   attempt.EmailID,
		Type:      attempt.Destination.Type,
		Success:   result.Success,
		Message:   result.Message,
		Code:      result.Code,
		CreatedAt: time.Now(),
	}

	if err := d.attemptLog.SaveForwardLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("rule_id", attempt.RuleID).Msg("failed to record forward attempt")
	}
}

// postJSON is the shared path for the webhook-style channels: egress check
// first, then a single non-redirecting POST.
func (d *Dispatcher) postJSON(ctx context.Context, dest domain.Destination, payload any) DispatchResult {
	validatedURL, err := d.egress.ValidateEgressURL(ctx, dest.URL)
	if err != nil {
		return DispatchResult{Success: false, Message: err.Error()}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return DispatchResult{Success: false, Message: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, validatedURL, bytes.NewReader(body))
	if err != nil {
		return DispatchResult{Success: false, Message: fmt.Sprintf("failed to build request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range dest.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		failure := fmt.Errorf("%w: %v", domain.ErrUpstream, err)
		return DispatchResult{Success: false, Message: failure.Error()}
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return DispatchResult{Success: false, Message: "redirect responses are not followed", Code: resp.StatusCode}
	case resp.StatusCode >= 400:
		return DispatchResult{Success: false, Message: fmt.Sprintf("destination returned %s", resp.Status), Code: resp.StatusCode}
	default:
		return DispatchResult{Success: true, Message: "delivered", Code: resp.StatusCode}
	}
}

// truncate cuts s to at most max bytes on a rune boundary, keeping channel
// payloads valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}

	return s[:max]
}

// sendWebhook posts the raw message document to the operator's endpoint.
func (d *Dispatcher) sendWebhook(ctx context.Context, dest domain.Destination, msg Message) DispatchResult {
	return d.postJSON(ctx, dest, msg)
}

func (d *Dispatcher) sendEmail(ctx context.Context, dest domain.Destination, msg Message) DispatchResult {
	if d.emails == nil {
		return DispatchResult{Success: false, Message: "email forwarding is not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	sent, err := d.emails.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    d.emailFrom,
		To:      []string{dest.To},
		Subject: msg.Subject,
		Text:    msg.TextBody,
		Html:    msg.HTMLBody,
	})
	if err != nil {
		failure := fmt.Errorf("%w: failed to send email: %v", domain.ErrUpstream, err)
		return DispatchResult{Success: false, Message: failure.Error()}
	}

	return DispatchResult{Success: true, Message: fmt.Sprintf("email %s queued", sent.Id)}
}
