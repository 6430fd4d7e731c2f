// Package triage implements the deterministic pre-classification rule
// evaluator (§4.8): a pure function over an envelope and an ordered rule
// set that fails open to pass_through whenever nothing matches, the cache
// hasn't loaded, or evaluation panics.
package triage

import (
	"sort"
	"strings"
)

// RuleType discriminates the condition shape a Rule evaluates.
type RuleType string

const (
	RuleSenderDomain  RuleType = "sender_domain"
	RuleSenderAddress RuleType = "sender_address"
	RuleHeaderMatch   RuleType = "header_condition"
	RuleLabelMatch    RuleType = "label_match"
)

// Rule is one deterministic triage rule, as loaded from the rule cache.
type Rule struct {
	ID       string
	Type     RuleType
	Priority int
	// Mode selects the comparison a rule type applies. sender_domain reads
	// "exact" (default) or "suffix"; header_condition reads "present",
	// "equals", or "contains" (default). Ignored by sender_address and
	// label_match, which have exactly one comparison each.
	Mode string
	// Pattern is matched against the field named by Type: a domain for
	// sender_domain, an exact address for sender_address, a label for
	// label_match. header_condition ignores Pattern and uses HeaderName/
	// HeaderValue instead.
	Pattern string
	// HeaderName is the header key a header_condition rule inspects,
	// matched case-insensitively.
	HeaderName string
	// HeaderValue is the comparison value for header_condition's "equals"
	// and "contains" modes; unused by "present".
	HeaderValue string
	// Action is either a bare decision ("skip", "metadata_only",
	// "low_priority_queue", "pass_through") or "route_to:<butler>".
	Action string
}

// Envelope is the minimal projection of an ingest envelope triage rules
// evaluate against.
type Envelope struct {
	SourceChannel  string
	SenderIdentity string
	NormalizedText string
	Headers        map[string]string
	Labels         []string
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Decision        string
	Reason          string
	TargetButler    string
	MatchedRuleID   string
	MatchedRuleType string
}

// Evaluate runs the deterministic triage pass. cacheAvailable=false fails
// open immediately (the rule cache has never loaded). threadAffinityTarget,
// when non-empty, is treated as a synthetic highest-priority
// route_to:<target> rule, ahead of every rule in rules.
func Evaluate(env Envelope, rules []Rule, threadAffinityTarget string, cacheAvailable bool) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{Decision: "pass_through", Reason: "triage evaluation failed"}
		}
	}()

	if !cacheAvailable {
		return Decision{Decision: "pass_through", Reason: "triage cache unavailable"}
	}

	if threadAffinityTarget != "" {
		return Decision{
			Decision:        "route_to",
			TargetButler:    threadAffinityTarget,
			MatchedRuleType: "thread_affinity",
			Reason:          "thread affinity override",
		}
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, rule := range ordered {
		if !matches(env, rule) {
			continue
		}
		decision, target := parseAction(rule.Action)
		return Decision{
			Decision:        decision,
			TargetButler:    target,
			MatchedRuleID:   rule.ID,
			MatchedRuleType: string(rule.Type),
		}
	}

	return Decision{Decision: "pass_through", Reason: "no_match"}
}

func matches(env Envelope, rule Rule) bool {
	switch rule.Type {
	case RuleSenderDomain:
		_, domain, ok := strings.Cut(env.SenderIdentity, "@")
		if !ok {
			return false
		}
		domain = strings.ToLower(domain)
		pattern := strings.ToLower(rule.Pattern)
		if rule.Mode == "suffix" {
			return domain == pattern || strings.HasSuffix(domain, "."+pattern)
		}
		return domain == pattern
	case RuleSenderAddress:
		return strings.EqualFold(env.SenderIdentity, rule.Pattern)
	case RuleHeaderMatch:
		got, present := lookupHeader(env.Headers, rule.HeaderName)
		switch rule.Mode {
		case "present":
			return present
		case "equals":
			return present && strings.TrimSpace(got) == strings.TrimSpace(rule.HeaderValue)
		default: // "contains"
			return present && strings.Contains(got, rule.HeaderValue)
		}
	case RuleLabelMatch:
		for _, l := range env.Labels {
			if strings.EqualFold(l, rule.Pattern) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// lookupHeader finds a header value by case-insensitive key match, mirroring
// the connector-side rule matcher this evaluator is modeled on.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// parseAction splits "route_to:<butler>" into ("route_to", butler);
// anything else passes through unchanged with an empty target.
func parseAction(action string) (decision, target string) {
	if name, butler, ok := strings.Cut(action, ":"); ok && name == "route_to" {
		return "route_to", butler
	}
	return action, ""
}
