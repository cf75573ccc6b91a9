package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vapormail/vapormail/pkg/condition"
	"github.com/vapormail/vapormail/pkg/domain"
)

var sampleEmail = domain.EmailSnapshot{
	FromAddress: "billing@Example.COM",
	ToAddress:   "inbox@vapormail.dev",
	Subject:     "Your Invoice #4021 is ready",
	TextBody:    "Please find the attached invoice.\nTotal due: $120.00",
}

func TestEvaluateMatchOperators(t *testing.T) {
	testCases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{
			name: "contains case insensitive by default",
			cond: domain.Match(domain.MatchFieldSubject, domain.MatchOperatorContains, "INVOICE"),
			want: true,
		},
		{
			name: "contains case sensitive miss",
			cond: domain.Condition{
				Kind:          domain.ConditionKindMatch,
				Field:         domain.MatchFieldSubject,
				Operator:      domain.MatchOperatorContains,
				Value:         "INVOICE",
				CaseSensitive: true,
			},
			want: false,
		},
		{
			name: "equals full subject",
			cond: domain.Match(domain.MatchFieldSubject, domain.MatchOperatorEquals, "your invoice #4021 is ready"),
			want: true,
		},
		{
			name: "equals partial is not a match",
			cond: domain.Match(domain.MatchFieldSubject, domain.MatchOperatorEquals, "invoice"),
			want: false,
		},
		{
			name: "startsWith",
			cond: domain.Match(domain.MatchFieldSubject, domain.MatchOperatorStartsWith, "your invoice"),
			want: true,
		},
		{
			name: "endsWith on from address",
			cond: domain.Match(domain.MatchFieldFromAddress, domain.MatchOperatorEndsWith, "@example.com"),
			want: true,
		},
		{
			name: "regex",
			cond: domain.Match(domain.MatchFieldSubject, domain.MatchOperatorRegex, `invoice #\d+`),
			want: true,
		},
		{
			name: "regex case sensitive",
			cond: domain.Condition{
				Kind:          domain.ConditionKindMatch,
				Field:         domain.MatchFieldSubject,
				Operator:      domain.MatchOperatorRegex,
				Value:         `invoice #\d+`,
				CaseSensitive: true,
			},
			want: false,
		},
		{
			name: "invalid regex evaluates to false",
			cond: domain.Match(domain.MatchFieldSubject, domain.MatchOperatorRegex, `invoice #(\d+`),
			want: false,
		},
		{
			name: "unknown field reads as empty",
			cond: domain.Match("ccAddress", domain.MatchOperatorEquals, ""),
			want: true,
		},
		{
			name: "body contains",
			cond: domain.Match(domain.MatchFieldTextBody, domain.MatchOperatorContains, "total due"),
			want: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, condition.Evaluate(tc.cond, sampleEmail))
		})
	}
}

func TestEvaluateCombinators(t *testing.T) {
	match := domain.Match(domain.MatchFieldSubject, domain.MatchOperatorContains, "invoice")
	miss := domain.Match(domain.MatchFieldSubject, domain.MatchOperatorContains, "receipt")

	testCases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{name: "and all true", cond: domain.And(match, match), want: true},
		{name: "and one false", cond: domain.And(match, miss), want: false},
		{name: "empty and is true", cond: domain.And(), want: true},
		{name: "or one true", cond: domain.Or(miss, match), want: true},
		{name: "or all false", cond: domain.Or(miss, miss), want: false},
		{name: "empty or is false", cond: domain.Or(), want: false},
		{name: "not inverts", cond: domain.Not(miss), want: true},
		{name: "double negation is identity", cond: domain.Not(domain.Not(match)), want: true},
		{
			name: "nested tree",
			cond: domain.And(
				domain.Or(miss, match),
				domain.Not(miss),
			),
			want: true,
		},
		{name: "unknown kind is false", cond: domain.Condition{Kind: "xor"}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, condition.Evaluate(tc.cond, sampleEmail))
		})
	}
}
