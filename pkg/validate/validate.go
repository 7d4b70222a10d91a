// Package validate checks the shape of third-party API keys before they are
// accepted into the credential vault.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMinLength is the exclusive lower bound on the length of a secret
	// for a service without a dedicated rule.
	DefaultMinLength = 10
	// DefaultMaxLength is the exclusive upper bound on the length of a secret
	// for a service without a dedicated rule.
	DefaultMaxLength = 200
	// maxServiceNameLength bounds service identifiers, which end up as key
	// segments in every persistence backend.
	maxServiceNameLength = 64
)

// Rule is the fixed-shape pattern a known service's keys must match.
type Rule struct {
	// Service is the lower-cased service name the rule applies to.
	Service string
	// Pattern is anchored at both ends.
	Pattern *regexp.Regexp
}

// Match reports whether secret satisfies the rule.
func (r Rule) Match(secret string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(secret)
}

// Rules maps lower-cased service names to their key pattern. Services that are
// not listed here fall back to the default length rule.
var Rules = map[string]Rule{
	"firecrawl":          newRule("firecrawl", `^fc-[A-Za-z0-9]{32}$`),
	"openai":             newRule("openai", `^sk-[A-Za-z0-9]{48}$`),
	"anthropic":          newRule("anthropic", `^sk-ant-[A-Za-z0-9_-]{95}$`),
	"stripe":             newRule("stripe", `^sk_(live|test)_[A-Za-z0-9]{24}$`),
	"stripe_publishable": newRule("stripe_publishable", `^pk_(live|test)_[A-Za-z0-9]{24}$`),
	"google_maps":        newRule("google_maps", `^AIza[A-Za-z0-9_-]{35}$`),
	"github":             newRule("github", `^ghp_[A-Za-z0-9]{36}$`),
}

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func newRule(service, pattern string) Rule {
	return Rule{Service: service, Pattern: regexp.MustCompile(pattern)}
}

// Lookup returns the rule registered for serviceName, ignoring case.
func Lookup(serviceName string) (Rule, bool) {
	r, ok := Rules[strings.ToLower(serviceName)]
	return r, ok
}

// Format reports whether secret is an acceptable key for serviceName.
// Empty input is never acceptable.
func Format(serviceName, secret string) bool {
	if serviceName == "" || secret == "" {
		return false
	}
	if r, ok := Lookup(serviceName); ok {
		return r.Match(secret)
	}
	n := utf8.RuneCountInString(secret)
	return n > DefaultMinLength && n < DefaultMaxLength
}

// ServiceName reports whether name can be used as a service identifier.
func ServiceName(name string) bool {
	if len(name) == 0 || len(name) > maxServiceNameLength {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return serviceNamePattern.MatchString(name)
}
