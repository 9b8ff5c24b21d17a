// Package classifier assigns a routing hint to a user message by matching
// it against configured keyword/pattern rules, so the cost router
// (config.CostConfig.Routes) can pick a cheaper or more capable model
// without an LLM call of its own.
package classifier

import (
	"sort"
	"strings"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/config"
)

// Decision is the matched rule's hint together with its priority, for
// callers that want to log or compare matches rather than just route on
// the hint.
type Decision struct {
	Hint     string
	Priority int
}

// Classify returns the hint of the first matching rule, or "" if
// classification is disabled, no rules are configured, or nothing matches.
func Classify(cfg config.ClassificationConfig, message string) string {
	d, ok := ClassifyWithDecision(cfg, message)
	if !ok {
		return ""
	}
	return d.Hint
}

// ClassifyWithDecision evaluates cfg.Rules against message in descending
// priority order and returns the first match.
//
// Keyword matching is case-insensitive (both the message and each keyword
// are lowercased); pattern matching is case-sensitive by contract, so a
// rule can target literal code or identifiers without the lowering pass
// eating their casing.
func ClassifyWithDecision(cfg config.ClassificationConfig, message string) (Decision, bool) {
	if !cfg.Enabled || len(cfg.Rules) == 0 {
		return Decision{}, false
	}

	rules := make([]config.ClassificationRule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	lower := strings.ToLower(message)
	length := len(message)

	for _, rule := range rules {
		if rule.MinLength != nil && length < *rule.MinLength {
			continue
		}
		if rule.MaxLength != nil && length > *rule.MaxLength {
			continue
		}

		if matchesKeyword(lower, rule.Keywords) || matchesPattern(message, rule.Patterns) {
			return Decision{Hint: rule.Hint, Priority: rule.Priority}, true
		}
	}
	return Decision{}, false
}

func matchesKeyword(lowerMessage string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowerMessage, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func matchesPattern(message string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.Contains(message, pat) {
			return true
		}
	}
	return false
}
