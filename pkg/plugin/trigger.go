package plugin

import (
	"fmt"
	"regexp"
)

// Trigger decides whether a handler applies to a piece of text.
//
// The zero Trigger has no pattern and matches any text.
type Trigger struct {
	re      *regexp.Regexp
	literal string
}

// NewText compiles a string-origin trigger. The source is wrapped as
// ^(?:source)$ so it only matches the whole text.
func NewText(source string) (Trigger, error) {
	re, err := regexp.Compile("^(?:" + source + ")$")
	if err != nil {
		return Trigger{}, fmt.Errorf("compile trigger %q: %w", source, err)
	}

	return Trigger{re: re, literal: source}, nil
}

// Text is like NewText but panics on an invalid pattern.
func Text(source string) Trigger {
	t, err := NewText(source)
	if err != nil {
		panic(err)
	}
	return t
}

// Pattern wraps a compiled expression as-is; it matches anywhere in the text
// unless the expression anchors itself.
func Pattern(re *regexp.Regexp) Trigger {
	return Trigger{re: re}
}

// Regex compiles expr as a pattern-origin trigger and panics on failure.
func Regex(expr string) Trigger {
	return Pattern(regexp.MustCompile(expr))
}

// Any returns the catch-all trigger.
func Any() Trigger {
	return Trigger{}
}

// IsAny reports whether the trigger matches unconditionally.
func (t Trigger) IsAny() bool {
	return t.re == nil
}

// Regexp exposes the compiled expression, nil for the catch-all trigger.
func (t Trigger) Regexp() *regexp.Regexp {
	return t.re
}

// Match tests text against the trigger.
func (t Trigger) Match(text string) (Match, bool) {
	if t.re == nil {
		return Match{}, true
	}

	idx := t.re.FindStringSubmatchIndex(text)
	if idx == nil {
		return Match{}, false
	}

	return newMatch(t.re, text, idx), true
}

// Source returns the text a trigger was declared with: the literal for
// string-origin triggers, the expression otherwise.
func (t Trigger) Source() string {
	if t.literal != "" {
		return t.literal
	}
	return t.String()
}

func (t Trigger) String() string {
	if t.re == nil {
		return "<any>"
	}
	return t.re.String()
}

// Match holds the capture groups of one successful trigger evaluation.
//
// Group 0 is the whole match; unmatched optional groups are empty strings.
type Match struct {
	groups  []string
	matched []bool
	names   map[string]int
}

func newMatch(re *regexp.Regexp, text string, idx []int) Match {
	n := len(idx) / 2
	m := Match{
		groups:  make([]string, n),
		matched: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		if idx[2*i] < 0 {
			continue
		}
		m.groups[i] = text[idx[2*i]:idx[2*i+1]]
		m.matched[i] = true
	}

	for i, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		if m.names == nil {
			m.names = make(map[string]int)
		}
		m.names[name] = i
	}

	return m
}

// Len returns the number of groups including the whole match.
func (m Match) Len() int {
	return len(m.groups)
}

// Group returns the i-th group, or "" when it does not exist or did not
// participate in the match.
func (m Match) Group(i int) string {
	if i < 0 || i >= len(m.groups) {
		return ""
	}
	return m.groups[i]
}

// Matched reports whether group i participated in the match.
func (m Match) Matched(i int) bool {
	if i < 0 || i >= len(m.matched) {
		return false
	}
	return m.matched[i]
}

// Captures returns the groups after the whole match, in order.
func (m Match) Captures() []string {
	if len(m.groups) <= 1 {
		return nil
	}

	out := make([]string, len(m.groups)-1)
	copy(out, m.groups[1:])
	return out
}

// Named returns the value of a named group.
func (m Match) Named(name string) string {
	i, ok := m.names[name]
	if !ok {
		return ""
	}
	return m.Group(i)
}

// NamedGroups returns every named group keyed by name.
func (m Match) NamedGroups() map[string]string {
	if len(m.names) == 0 {
		return nil
	}

	out := make(map[string]string, len(m.names))
	for name, i := range m.names {
		out[name] = m.Group(i)
	}
	return out
}

// NewPattern compiles expr as a pattern-origin trigger.
func NewPattern(expr string) (Trigger, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return Pattern(re), nil
}
