// Package keyword finds posts matching operator-configured keyword rules and
// remembers which posts have already been reported.
package keyword

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrEmptyRule is returned by ParseRule for a blank definition.
var ErrEmptyRule = errors.New("empty keyword rule")

const patternTimeout = 2 * time.Second

// Rule decides whether a text matches.
type Rule interface {
	Match(text string) (bool, error)
	String() string
}

// AllOf matches when every term occurs as a substring.
type AllOf struct {
	Terms []string
}

func (r AllOf) Match(text string) (bool, error) {
	for _, term := range r.Terms {
		if !strings.Contains(text, term) {
			return false, nil
		}
	}
	return true, nil
}

func (r AllOf) String() string {
	return "[" + strings.Join(r.Terms, " ") + "]"
}

// Pattern matches when the expression matches at the start of the text.
// The dot matches newlines, so a pattern may span lines.
type Pattern struct {
	source string
	re     *regexp2.Regexp
}

// NewPattern compiles expr. The syntax is the backtracking dialect of
// regexp2 (lookarounds and backreferences are allowed).
func NewPattern(expr string) (*Pattern, error) {
	re, err := regexp2.Compile(`\A(?:`+expr+`)`, regexp2.Singleline)
	if err != nil {
		return nil, fmt.Errorf("compile keyword pattern %q: %w", expr, err)
	}
	re.MatchTimeout = patternTimeout
	return &Pattern{source: expr, re: re}, nil
}

func (p *Pattern) Match(text string) (bool, error) {
	return p.re.MatchString(text)
}

func (p *Pattern) String() string {
	return p.source
}

// ParseRule reads the operator syntax: a bracketed, whitespace separated list
// ("[cat dog]") is an AllOf rule, anything else is a Pattern.
func ParseRule(def string) (Rule, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return nil, ErrEmptyRule
	}
	if strings.HasPrefix(def, "[") && strings.HasSuffix(def, "]") {
		terms := strings.Fields(def[1 : len(def)-1])
		if len(terms) == 0 {
			return nil, ErrEmptyRule
		}
		return AllOf{Terms: terms}, nil
	}
	return NewPattern(def)
}
