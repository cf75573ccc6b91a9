// Package condition evaluates the recursive boolean grammar shared by
// workflow match nodes and forward rules against an email snapshot.
package condition

import (
	"regexp"
	"strings"

	"github.com/vapormail/vapormail/pkg/domain"
)

// Evaluate is pure and never fails: an unknown variant (which parsing
// already rejects) and a malformed regex both evaluate to false.
func Evaluate(cond domain.Condition, email domain.EmailSnapshot) bool {
	switch cond.Kind {
	case domain.ConditionKindAnd:
		for _, child := range cond.Conditions {
			if !Evaluate(child, email) {
				return false
			}
		}
		return true

	case domain.ConditionKindOr:
		for _, child := range cond.Conditions {
			if Evaluate(child, email) {
				return true
			}
		}
		return false

	case domain.ConditionKindNot:
		if cond.Condition == nil {
			return false
		}
		return !Evaluate(*cond.Condition, email)

	case domain.ConditionKindMatch:
		return evaluateMatch(cond, email)

	default:
		return false
	}
}

func evaluateMatch(cond domain.Condition, email domain.EmailSnapshot) bool {
	// A missing field reads as "", not an error.
	fieldValue := fieldValue(cond.Field, email)
	matchValue := cond.Value

	if !cond.CaseSensitive {
		fieldValue = strings.ToLower(fieldValue)
		matchValue = strings.ToLower(matchValue)
	}

	switch cond.Operator {
	case domain.MatchOperatorContains:
		return strings.Contains(fieldValue, matchValue)
	case domain.MatchOperatorEquals:
		return fieldValue == matchValue
	case domain.MatchOperatorStartsWith:
		return strings.HasPrefix(fieldValue, matchValue)
	case domain.MatchOperatorEndsWith:
		return strings.HasSuffix(fieldValue, matchValue)
	case domain.MatchOperatorRegex:
		return evaluateRegex(cond, fieldValue)
	default:
		return false
	}
}

func evaluateRegex(cond domain.Condition, fieldValue string) bool {
	pattern := cond.Value
	if !cond.CaseSensitive {
		pattern = "(?i)" + pattern
	}

	// A pattern that does not compile is a non-match, never an error.
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}

	return re.MatchString(fieldValue)
}

func fieldValue(field domain.MatchField, email domain.EmailSnapshot) string {
	switch field {
	case domain.MatchFieldSubject:
		return email.Subject
	case domain.MatchFieldFromAddress:
		return email.FromAddress
	case domain.MatchFieldToAddress:
		return email.ToAddress
	case domain.MatchFieldTextBody:
		return email.TextBody
	default:
		return ""
	}
}
