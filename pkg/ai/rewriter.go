package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/vapormail/vapormail/pkg/domain"
	"github.com/vapormail/vapormail/pkg/template"
)

const rewriteFieldLimit = 2000

const defaultRewritePrompt = `You are rewriting an email inside a mailbox automation workflow.

Instruction:
{{instruction}}

Only rewrite these fields: {{fields}}. Leave every other field null.

Email:
From: {{email.fromAddress}}
Subject: {{email.subject}}
Body:
{{email.textBody}}

Current workflow variables: {{variablesJson}}

You may also emit workflow variables as string key/value pairs.`

type RewriteParams struct {
	Fields      []string
	Prompt      string
	WriteTarget domain.RewriteTarget
}

// RewriteResult carries partial updates only: nil fields were not addressed
// by the model and must not overwrite anything.
type RewriteResult struct {
	Subject   *string           `json:"subject,omitempty"`
	TextBody  *string           `json:"textBody,omitempty"`
	HTMLBody  *string           `json:"htmlBody,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Reasoning string            `json:"reasoning,omitempty"`
}

// Rewrite produces an optional rewritten subject/body/variable set. Without
// an API key, or in test mode, it returns a clearly marked synthetic rewrite
// so callers can assert deterministic output. Upstream failures return an
// empty result (no updates), never an error.
func (c *Client) Rewrite(ctx context.Context, p RewriteParams, execCtx *domain.ExecutionContext) RewriteResult {
	if execCtx.IsTestMode || !c.hasAPIKey() {
		return syntheticRewrite(execCtx.Email)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: c.rewritePrompt(p, execCtx)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "email_rewrite",
				Schema: rewriteSchema(),
				Strict: true,
			},
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("rewrite upstream call failed, skipping rewrite")
		return RewriteResult{}
	}

	if len(resp.Choices) == 0 {
		log.Warn().Msg("rewrite returned no choices, skipping rewrite")
		return RewriteResult{}
	}

	var result RewriteResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		log.Warn().Err(err).Msg("rewrite response did not parse, skipping rewrite")
		return RewriteResult{}
	}

	return result
}

func syntheticRewrite(email domain.EmailSnapshot) RewriteResult {
	subject := "[AI] " + email.Subject
	body := "[AI rewritten]\n" + email.TextBody

	return RewriteResult{
		Subject:   &subject,
		TextBody:  &body,
		Reasoning: "test mode",
	}
}

func (c *Client) rewritePrompt(p RewriteParams, execCtx *domain.ExecutionContext) string {
	promptCtx := promptContext(execCtx, rewriteFieldLimit)

	promptCtx["fields"] = strings.Join(p.Fields, ", ")
	promptCtx["instruction"] = template.Render(p.Prompt, promptCtx)

	return template.Render(defaultRewritePrompt, promptCtx)
}

func rewriteSchema() json.RawMessage {
	// Strict mode requires every property in required; optionality is the
	// null type union.
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"subject":  map[string]any{"type": []string{"string", "null"}},
			"textBody": map[string]any{"type": []string{"string", "null"}},
			"htmlBody": map[string]any{"type": []string{"string", "null"}},
			"variables": map[string]any{
				"type":                 []string{"object", "null"},
				"additionalProperties": map[string]any{"type": "string"},
			},
			"reasoning": map[string]any{"type": []string{"string", "null"}},
		},
		"required": []string{"subject", "textBody", "htmlBody", "variables", "reasoning"},
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}

	return raw
}
