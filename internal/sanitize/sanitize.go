// Package sanitize strips dangerous byte and character sequences from
// caller-supplied text before it is forwarded to the analysis handler.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	// MaxLen is the post-sanitization length ceiling in runes.
	MaxLen = 10000
	// MaxDepth bounds structure traversal on adversarial payloads.
	MaxDepth = 32
	// MaxNodes bounds the total number of visited container entries.
	MaxNodes = 10000
)

// htmlEscaper covers the six characters the escaping stage rewrites. The
// replacements happen simultaneously, so entities produced here are not
// re-escaped within this stage.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

var (
	sqlKeywords    = regexp.MustCompile(`(?i)\b(?:SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC(?:UTE)?|UNION|DECLARE)\b`)
	sqlPunctuation = regexp.MustCompile(`--|/\*|\*/|;`)
	tautologies    = regexp.MustCompile(`(?i)\b(?:OR|AND)\s+\d+\s*=\s*\d+`)
	substitutions  = regexp.MustCompile(`\$\{[^}]*\}|\$\([^)]*\)`)
	shellMetachars = regexp.MustCompile("[;&|`$(){}\\[\\]]")
)

// Clean sanitizes a single string. It is total: any input produces a valid
// output and no error. The stages run in a fixed order (null bytes, HTML
// escaping, SQL tokens, tautologies, shell metacharacters, truncation, trim).
// Escaping runs before stripping, so entities introduced by the escaper are
// themselves subject to the later character classes: the function is NOT
// idempotent and callers must apply it exactly once per field.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = htmlEscaper.Replace(s)
	s = sqlKeywords.ReplaceAllString(s, "")
	s = sqlPunctuation.ReplaceAllString(s, "")
	s = tautologies.ReplaceAllString(s, "")
	s = substitutions.ReplaceAllString(s, "")
	s = shellMetachars.ReplaceAllString(s, "")
	if runes := []rune(s); len(runes) > MaxLen {
		s = string(runes[:MaxLen])
	}
	return strings.TrimSpace(s)
}

// CleanField sanitizes a value expected to be a string. Non-string input
// degrades to the empty string rather than failing the request; sanitization
// must never become a crash vector itself.
func CleanField(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Clean(s)
}

type frame struct {
	value any
	depth int
}

// CleanValue applies Clean to every string leaf of an arbitrarily nested
// map/slice value, preserving shape. Containers are mutated in place and the
// (possibly rewritten) root is returned. Traversal is iterative with explicit
// depth and node budgets; anything beyond the budget passes through
// unchanged. Non-string, non-container leaves are untouched.
func CleanValue(root any) any {
	if s, ok := root.(string); ok {
		return Clean(s)
	}

	nodes := 0
	stack := []frame{{value: root, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth >= MaxDepth {
			continue
		}

		switch cur := f.value.(type) {
		case map[string]any:
			for k, v := range cur {
				nodes++
				if nodes > MaxNodes {
					return root
				}
				switch leaf := v.(type) {
				case string:
					cur[k] = Clean(leaf)
				case map[string]any, []any:
					stack = append(stack, frame{value: leaf, depth: f.depth + 1})
				}
			}
		case []any:
			for i, v := range cur {
				nodes++
				if nodes > MaxNodes {
					return root
				}
				switch leaf := v.(type) {
				case string:
					cur[i] = Clean(leaf)
				case map[string]any, []any:
					stack = append(stack, frame{value: leaf, depth: f.depth + 1})
				}
			}
		}
	}
	return root
}
