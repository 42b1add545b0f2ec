package classify

import "strings"

// Severity grades how bad a failure is for the system.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// UserImpact grades how visible a failure is to the end user.
type UserImpact string

const (
	ImpactNone   UserImpact = "none"
	ImpactMinor  UserImpact = "minor"
	ImpactMajor  UserImpact = "major"
	ImpactSevere UserImpact = "severe"
)

// Classification is the taxonomy entry for a failure. It drives retry
// behavior, alert level and operator notification.
type Classification struct {
	Type        string
	Retryable   bool
	Severity    Severity
	UserImpact  UserImpact
	NotifyAdmin bool
}

// Rule pairs a set of message substrings with the classification applied
// when any of them match. Rules are evaluated in order; first match wins.
type Rule struct {
	Match          []string
	Classification Classification
}

// Default is applied to errors no rule matches. Conservative: keep retrying,
// flag as medium, do not page anyone.
var Default = Classification{
	Type:       "unknown",
	Retryable:  true,
	Severity:   SeverityMedium,
	UserImpact: ImpactMinor,
}

// DefaultRules is the static rule table for the delivery pipeline. Matching
// is substring-based against the lowercased error message; the underlying
// channel and storage clients expose no stable error-code contract, so the
// message heuristic is the contract.
var DefaultRules = []Rule{
	{
		Match: []string{"validation", "invalid recipient", "invalid request", "missing required"},
		Classification: Classification{
			Type: "validation", Retryable: false,
			Severity: SeverityMedium, UserImpact: ImpactMajor, NotifyAdmin: true,
		},
	},
	{
		Match: []string{"unauthorized", "authentication", "invalid token", "401", "forbidden", "403"},
		Classification: Classification{
			Type: "auth", Retryable: false,
			Severity: SeverityCritical, UserImpact: ImpactSevere, NotifyAdmin: true,
		},
	},
	{
		Match: []string{"rate limit", "too many requests", "429", "quota", "plan limit"},
		Classification: Classification{
			Type: "rate_limit", Retryable: true,
			Severity: SeverityHigh, UserImpact: ImpactMinor, NotifyAdmin: true,
		},
	},
	{
		Match: []string{"not registered", "recipient not found", "unknown recipient", "blocked by user"},
		Classification: Classification{
			Type: "recipient", Retryable: false,
			Severity: SeverityLow, UserImpact: ImpactMajor,
		},
	},
	{
		Match: []string{"template", "render", "malformed artifact"},
		Classification: Classification{
			Type: "render", Retryable: true,
			Severity: SeverityHigh, UserImpact: ImpactMajor, NotifyAdmin: true,
		},
	},
	{
		Match: []string{"payload too large", "attachment too large", "413"},
		Classification: Classification{
			Type: "payload_size", Retryable: false,
			Severity: SeverityMedium, UserImpact: ImpactMinor,
		},
	},
	{
		Match: []string{"timeout", "deadline exceeded", "timed out"},
		Classification: Classification{
			Type: "timeout", Retryable: true,
			Severity: SeverityMedium, UserImpact: ImpactMinor,
		},
	},
	{
		Match: []string{"connection refused", "connection reset", "no such host", "network", "eof", "broken pipe"},
		Classification: Classification{
			Type: "network", Retryable: true,
			Severity: SeverityLow, UserImpact: ImpactNone,
		},
	},
	{
		Match: []string{"500", "502", "503", "504", "internal server error", "service unavailable"},
		Classification: Classification{
			Type: "upstream", Retryable: true,
			Severity: SeverityMedium, UserImpact: ImpactMinor,
		},
	},
}

// Classifier maps raw failures onto the taxonomy. It is pure and total:
// Classify never fails, unmatched errors get the default entry.
type Classifier struct {
	rules    []Rule
	fallback Classification
}

// New builds a classifier over the given rule table. Passing nil rules uses
// DefaultRules.
func New(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{rules: rules, fallback: Default}
}

// Classify returns the taxonomy entry for err. First matching rule wins.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return c.fallback
	}

	msg := strings.ToLower(err.Error())
	for _, r := range c.rules {
		for _, m := range r.Match {
			if strings.Contains(msg, m) {
				return r.Classification
			}
		}
	}
	return c.fallback
}

// Worse reports whether a outranks b in severity.
func Worse(a, b Severity) bool {
	return rank(a) > rank(b)
}

func rank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 1
}
