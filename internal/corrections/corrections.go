// Package corrections rewrites recognized speech using farm vocabulary rules,
// so that misheard species or tank names reach the backend spelled correctly.
package corrections

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultMaxPasses = 30

// Rule is one correction. Exactly one of Match or Pattern is set.
// Match is a case-insensitive literal replaced everywhere. Pattern is a
// case-insensitive regular expression replaced at its first match, or at
// every match when All is set. Replace may use $1 style groups with Pattern.
type Rule struct {
	Match   string `toml:"match"`
	Pattern string `toml:"pattern"`
	Replace string `toml:"replace"`
	All     bool   `toml:"all"`
}

type document struct {
	MaxPasses int    `toml:"max_passes"`
	Rules     []Rule `toml:"rule"`
}

type rewriter interface {
	rewrite(input string) (string, bool)
}

// Set applies its rules repeatedly until the text stops changing.
type Set struct {
	rules     []rewriter
	maxPasses int
}

// Load reads a TOML rules file. An empty path or a missing file yields an empty set.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return &Set{maxPasses: defaultMaxPasses}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Set{maxPasses: defaultMaxPasses}, nil
		}
		return nil, fmt.Errorf("read corrections file %q: %w", path, err)
	}

	set, err := Parse(contents)
	if err != nil {
		return nil, fmt.Errorf("corrections file %q: %w", path, err)
	}
	return set, nil
}

// Parse decodes a TOML rules document:
//
//	max_passes = 10
//
//	[[rule]]
//	match = "till a pia"
//	replace = "tilapia"
func Parse(data []byte) (*Set, error) {
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return New(doc.Rules, doc.MaxPasses)
}

// New compiles rules. maxPasses bounds rewriting cycles; zero or less uses the default.
func New(rules []Rule, maxPasses int) (*Set, error) {
	if maxPasses <= 0 {
		maxPasses = defaultMaxPasses
	}

	compiled := make([]rewriter, 0, len(rules))
	for index, rule := range rules {
		rw, err := compile(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", index+1, err)
		}
		compiled = append(compiled, rw)
	}
	return &Set{rules: compiled, maxPasses: maxPasses}, nil
}

// Len reports the number of compiled rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Apply rewrites text. A nil or empty set returns text unchanged.
func (s *Set) Apply(text string) string {
	if s.Len() == 0 {
		return text
	}

	result := text
	for pass := 0; pass < s.maxPasses; pass++ {
		changed := false
		for _, rule := range s.rules {
			if next, ok := rule.rewrite(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.Join(strings.Fields(result), " ")
}

func compile(rule Rule) (rewriter, error) {
	match := strings.TrimSpace(rule.Match)
	pattern := strings.TrimSpace(rule.Pattern)

	switch {
	case match != "" && pattern != "":
		return nil, errors.New("set either match or pattern, not both")
	case match != "":
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(match))
		if err != nil {
			return nil, fmt.Errorf("invalid match: %w", err)
		}
		return literalRewriter{re: re, replacement: rule.Replace}, nil
	case pattern != "":
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		return patternRewriter{re: re, replacement: rule.Replace, all: rule.All}, nil
	default:
		return nil, errors.New("match or pattern is required")
	}
}

type literalRewriter struct {
	re          *regexp.Regexp
	replacement string
}

func (r literalRewriter) rewrite(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type patternRewriter struct {
	re          *regexp.Regexp
	replacement string
	all         bool
}

func (r patternRewriter) rewrite(input string) (string, bool) {
	if r.all {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(replaced) + input[loc[1]:]
	return output, output != input
}
