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

const classifierFieldLimit = 1000

const defaultClassifierPrompt = `You are an email triage assistant for a mailbox automation workflow.

Classify the email into exactly one of these categories:
{{categories}}

{{instruction}}

Email:
From: {{email.fromAddress}}
To: {{email.toAddress}}
Subject: {{email.subject}}
Body:
{{email.textBody}}

Current workflow variables: {{variablesJson}}

Pick the single best category. If none fits, answer "default".`

type ClassifyParams struct {
	Categories          []string
	DefaultCategory     string
	ConfidenceThreshold float64
	CustomPrompt        string
}

type classifierResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Classify picks a category for the email in execCtx. It always returns a
// usable category: test mode and a missing API key both use the fallback
// (network-free), and upstream or parse failures degrade the same way.
func (c *Client) Classify(ctx context.Context, p ClassifyParams, execCtx *domain.ExecutionContext) string {
	if execCtx.IsTestMode || !c.hasAPIKey() {
		return c.fallbackCategory(p, execCtx)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: c.classifierPrompt(p, execCtx)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "email_classification",
				Schema: classifierSchema(p.Categories),
				Strict: true,
			},
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("classifier upstream call failed, falling back")
		return c.fallbackCategory(p, execCtx)
	}

	if len(resp.Choices) == 0 {
		log.Warn().Msg("classifier returned no choices, falling back")
		return c.fallbackCategory(p, execCtx)
	}

	var result classifierResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		log.Warn().Err(err).Msg("classifier response did not parse, falling back")
		return c.fallbackCategory(p, execCtx)
	}

	return resolveCategory(result, p)
}

// resolveCategory applies the confidence gate: a confidence below the
// threshold or a category outside the allowed set falls back to the default.
// A confidence exactly at the threshold passes.
func resolveCategory(result classifierResponse, p ClassifyParams) string {
	threshold := p.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}

	if result.Category == "default" || result.Category == "" {
		return p.DefaultCategory
	}

	allowed := false
	for _, category := range p.Categories {
		if category == result.Category {
			allowed = true
			break
		}
	}

	if !allowed || result.Confidence < threshold {
		return p.DefaultCategory
	}

	return result.Category
}

func (c *Client) fallbackCategory(p ClassifyParams, execCtx *domain.ExecutionContext) string {
	if execCtx.IsTestMode {
		return testModeCategory(p, execCtx.Email)
	}

	return p.DefaultCategory
}

// testModeCategory is the deterministic offline classifier: the first
// configured category whose name appears in subject+body wins.
func testModeCategory(p ClassifyParams, email domain.EmailSnapshot) string {
	haystack := strings.ToLower(email.Subject + "\n" + email.TextBody)

	for _, category := range p.Categories {
		if category != "" && strings.Contains(haystack, strings.ToLower(category)) {
			return category
		}
	}

	if len(p.Categories) > 0 {
		return p.Categories[0]
	}

	return p.DefaultCategory
}

func (c *Client) classifierPrompt(p ClassifyParams, execCtx *domain.ExecutionContext) string {
	promptCtx := promptContext(execCtx, classifierFieldLimit)

	var categories strings.Builder
	for _, category := range p.Categories {
		categories.WriteString("- ")
		categories.WriteString(category)
		categories.WriteString("\n")
	}
	promptCtx["categories"] = strings.TrimRight(categories.String(), "\n")

	instruction := ""
	if p.CustomPrompt != "" {
		instruction = template.Render(p.CustomPrompt, promptCtx)
	}
	promptCtx["instruction"] = instruction

	return template.Render(defaultClassifierPrompt, promptCtx)
}

func classifierSchema(categories []string) json.RawMessage {
	enum := make([]string, 0, len(categories)+1)
	enum = append(enum, categories...)
	enum = append(enum, "default")

	// Strict mode requires every property in required; optionality is the
	// null type union.
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"category":   map[string]any{"type": "string", "enum": enum},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":  map[string]any{"type": []string{"string", "null"}},
		},
		"required": []string{"category", "confidence", "reasoning"},
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}

	return raw
}

// promptContext is the renderer context for AI prompts: the execution's
// template context with email fields truncated to the per-adapter limit.
func promptContext(execCtx *domain.ExecutionContext, fieldLimit int) map[string]any {
	promptCtx := execCtx.TemplateContext()

	if email, ok := promptCtx["email"].(map[string]any); ok {
		for _, key := range []string{"subject", "textBody", "htmlBody"} {
			if value, ok := email[key].(string); ok {
				email[key] = truncate(value, fieldLimit)
			}
		}
	}

	variablesJSON, err := json.Marshal(execCtx.Variables)
	if err != nil || execCtx.Variables == nil {
		variablesJSON = []byte("{}")
	}
	promptCtx["variablesJson"] = string(variablesJSON)

	return promptCtx
}
