package forward

import (
	"context"

	"github.com/vapormail/vapormail/pkg/condition"
	"github.com/vapormail/vapormail/pkg/domain"
	"github.com/vapormail/vapormail/pkg/template"
)

// Rule pairs a stored forward rule config with its destinations. v2 configs
// embed a single destination; v3 configs fan out to the target records.
type Rule struct {
	ID      string
	Config  domain.ForwardRuleConfig
	Targets []domain.ForwardTarget
}

type ruleDestination struct {
	targetID    string
	destination domain.Destination
}

func (r Rule) destinations() []ruleDestination {
	if r.Config.Version == domain.ForwardRuleVersion2 && r.Config.Destination != nil {
		return []ruleDestination{{destination: *r.Config.Destination}}
	}

	destinations := make([]ruleDestination, 0, len(r.Targets))
	for _, target := range r.Targets {
		destinations = append(destinations, ruleDestination{
			targetID:    target.ID,
			destination: target.Destination,
		})
	}

	return destinations
}

const defaultRuleTemplate = "{{email.textBody}}"

// RunRule evaluates one forward rule against an inbound email and, when its
// conditions hold, dispatches the rendered message to every destination.
// Each attempt is logged individually; one failed target does not stop the
// others.
func (d *Dispatcher) RunRule(ctx context.Context, rule Rule, email domain.EmailSnapshot, mailbox domain.Mailbox) []DispatchResult {
	if rule.Config.Conditions != nil && !condition.Evaluate(*rule.Config.Conditions, email) {
		return nil
	}

	renderCtx := (&domain.ExecutionContext{Email: email, Mailbox: mailbox}).TemplateContext()

	bodyTemplate := rule.Config.Template
	if bodyTemplate == "" {
		bodyTemplate = defaultRuleTemplate
	}

	msg := Message{
		Subject:  email.Subject,
		TextBody: template.Render(bodyTemplate, renderCtx),
		HTMLBody: email.HTMLBody,
	}

	results := make([]DispatchResult, 0, len(rule.destinations()))

	for _, dest := range rule.destinations() {
		results = append(results, d.Dispatch(ctx, Attempt{
			RuleID:      rule.ID,
			TargetID:    dest.targetID,
			EmailID:     email.ID,
			Destination: dest.destination,
			Message:     msg,
		}))
	}

	return results
}
