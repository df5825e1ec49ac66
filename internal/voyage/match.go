package voyage

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether an activity name marks a milestone.
type Matcher interface {
	Match(name string) bool
}

const (
	MatchRegex     = "regex"
	MatchSubstring = "substring"
)

type RegexMatcher struct {
	re *regexp.Regexp
}

func (m RegexMatcher) Match(name string) bool { return m.re.MatchString(name) }

func (m RegexMatcher) String() string { return m.re.String() }

// SubstringMatcher matches case-insensitively.
type SubstringMatcher struct {
	needle string
}

func (m SubstringMatcher) Match(name string) bool {
	return strings.Contains(strings.ToLower(name), m.needle)
}

// NewMatcher builds a matcher of the given kind. Regex flags i, m and s are honoured;
// g, u and y are accepted and ignored since a milestone scan only asks "does it match".
func NewMatcher(kind, pattern, flags string) (Matcher, error) {
	switch kind {
	case "", MatchRegex:
		return NewRegexMatcher(pattern, flags)
	case MatchSubstring:
		if strings.TrimSpace(pattern) == "" {
			return nil, fmt.Errorf("substring matcher needs a pattern")
		}
		return SubstringMatcher{needle: strings.ToLower(pattern)}, nil
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", kind)
	}
}

func NewRegexMatcher(pattern, flags string) (RegexMatcher, error) {
	if pattern == "" {
		return RegexMatcher{}, fmt.Errorf("regex matcher needs a pattern")
	}
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		case 'g', 'u', 'y':
		default:
			return RegexMatcher{}, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	expr := pattern
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return RegexMatcher{}, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return RegexMatcher{re: re}, nil
}
