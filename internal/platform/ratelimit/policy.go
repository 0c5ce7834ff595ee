package ratelimit

import (
	"strings"
	"time"
)

// Policy bounds request volume for one endpoint pattern.
type Policy struct {
	MaxRequests    int64
	Window         time.Duration
	SkipSuccessful bool
	SkipFailed     bool
}

// Rule binds a policy to an HTTP method and a path pattern. A pattern segment
// of "*" matches exactly one path segment.
type Rule struct {
	Method  string
	Pattern string
	Policy  Policy
}

type compiledRule struct {
	method   string
	pattern  string
	segments []string
	literals int
	policy   Policy
}

// Matcher resolves the policy for a request, preferring an exact method+path
// match over wildcard-segment patterns over the global default.
type Matcher struct {
	exact    map[string]compiledRule
	wildcard []compiledRule
	fallback Policy
}

// NewMatcher builds a matcher with a default policy and optional per-endpoint rules.
func NewMatcher(fallback Policy, rules ...Rule) *Matcher {
	m := &Matcher{
		exact:    make(map[string]compiledRule),
		fallback: fallback,
	}
	for _, rule := range rules {
		method := strings.ToUpper(strings.TrimSpace(rule.Method))
		pattern := normalizePath(rule.Pattern)
		if method == "" || pattern == "" {
			continue
		}
		compiled := compiledRule{
			method:  method,
			pattern: pattern,
			policy:  rule.Policy,
		}
		if !strings.Contains(pattern, "*") {
			m.exact[method+" "+pattern] = compiled
			continue
		}
		compiled.segments = splitPath(pattern)
		for _, segment := range compiled.segments {
			if segment != "*" {
				compiled.literals++
			}
		}
		m.wildcard = append(m.wildcard, compiled)
	}
	return m
}

// Match returns the policy governing the request and the pattern identifying
// it. The pattern joins the client identity in counter keys so distinct
// endpoints never share a window.
func (m *Matcher) Match(method, path string) (Policy, string) {
	method = strings.ToUpper(strings.TrimSpace(method))
	path = normalizePath(path)

	if rule, ok := m.exact[method+" "+path]; ok {
		return rule.policy, rule.method + " " + rule.pattern
	}

	segments := splitPath(path)
	best := -1
	bestLiterals := -1
	for i, rule := range m.wildcard {
		if rule.method != method || !segmentsMatch(rule.segments, segments) {
			continue
		}
		if rule.literals > bestLiterals {
			best = i
			bestLiterals = rule.literals
		}
	}
	if best >= 0 {
		rule := m.wildcard[best]
		return rule.policy, rule.method + " " + rule.pattern
	}

	return m.fallback, "default"
}

func segmentsMatch(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, segment := range pattern {
		if segment != "*" && segment != path[i] {
			return false
		}
	}
	return true
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
