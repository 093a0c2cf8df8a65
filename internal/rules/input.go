package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a parsed rule-input line.
type Rule struct {
	Kind    ListKind `json:"kind"`
	Pattern string   `json:"pattern"`
}

// ParseRuleInput interprets a user-entered rule:
//
//	regex:/expr/  or  regex:expr   → regex list (slashes optional)
//	allow:host                    → allow list
//	block:host                    → block list
//	host                          → block list
//
// Regexes that do not compile are rejected with ErrInvalidPattern.
func ParseRuleInput(input string) (Rule, error) {
	val := strings.TrimSpace(input)
	if val == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrInvalidPattern)
	}

	var r Rule
	switch {
	case strings.HasPrefix(val, "regex:"):
		expr := val[len("regex:"):]
		if len(expr) >= 2 && strings.HasPrefix(expr, "/") && strings.HasSuffix(expr, "/") {
			expr = expr[1 : len(expr)-1]
		}
		r = Rule{Kind: ListRegex, Pattern: expr}
	case strings.HasPrefix(val, "allow:"):
		r = Rule{Kind: ListAllow, Pattern: val[len("allow:"):]}
	case strings.HasPrefix(val, "block:"):
		r = Rule{Kind: ListBlock, Pattern: val[len("block:"):]}
	default:
		r = Rule{Kind: ListBlock, Pattern: val}
	}

	if r.Kind != ListRegex {
		r.Pattern = strings.ToLower(strings.TrimSpace(r.Pattern))
	}
	if err := validatePattern(r.Kind, r.Pattern); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func validatePattern(kind ListKind, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if kind == ListRegex {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		return nil
	}
	if strings.ContainsAny(pattern, " \t/") {
		return fmt.Errorf("%w: %q is not a host pattern", ErrInvalidPattern, pattern)
	}
	return nil
}
