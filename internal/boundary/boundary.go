// Package boundary implements the path legality checks behind
// enforce_boundary: allowed-path containment, illegal-move detection, and
// change budgets. Checks are advisory at this level; callers decide whether a
// violation logs, denies, or force-closes.
package boundary

// #region imports
import (
	"fmt"
	"regexp"
	"strings"
)

// #endregion

// #region violation

// ViolationCode identifies one class of boundary breach.
type ViolationCode string

const (
	CodeOutsideAllowedPaths ViolationCode = "DIFF_OUTSIDE_ALLOWED_PATHS"
	CodeForbiddenOutput     ViolationCode = "FORBIDDEN_OUTPUT_PRESENT"
	CodeBudgetExceeded      ViolationCode = "DIFF_BUDGET_EXCEEDED"
)

// BudgetBreach records one exceeded budget.
type BudgetBreach struct {
	Name  string `json:"name"`
	Got   int    `json:"got"`
	Limit int    `json:"limit"`
}

// Violation is one boundary breach with its evidence.
type Violation struct {
	Code     ViolationCode  `json:"code"`
	Paths    []string       `json:"paths,omitempty"`
	Breaches []BudgetBreach `json:"breaches,omitempty"`
}

// #endregion violation

// #region limits

// Limits is the boundary surface of one block contract. Empty AllowedPaths
// means unrestricted; zero budget fields mean unlimited.
type Limits struct {
	AllowedPaths    []string
	IllegalMoves    []string
	MaxChangedFiles int
	MaxChangedLines int
}

// #endregion limits

// #region matching

// Normalize canonicalizes a path for matching: forward slashes only, leading
// "./" noise stripped.
func Normalize(p string) string {
	return strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "./")
}

// isPattern reports whether s carries glob metacharacters.
func isPattern(s string) bool { return strings.ContainsAny(s, "*?[") }

// compilePattern translates a glob into a regexp. Unlike path matching in the
// standard library, `*` and `?` cross slashes here, and `[!...]` negates a
// class.
func compilePattern(pat string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pat); i++ {
		switch c := pat[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			if j < len(pat) && pat[j] == '!' {
				j++
			}
			if j < len(pat) && pat[j] == ']' {
				j++
			}
			for j < len(pat) && pat[j] != ']' {
				j++
			}
			if j >= len(pat) {
				// Unterminated class: treat the bracket literally.
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			class := pat[i : j+1]
			if strings.HasPrefix(class, "[!") {
				class = "[^" + class[2:]
			}
			b.WriteString(class)
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// matchOne applies one allow/deny pattern: glob when it carries
// metacharacters, directory-prefix containment otherwise.
func matchOne(path, pat string) bool {
	p := Normalize(path)
	n := Normalize(pat)
	if isPattern(n) {
		re, err := compilePattern(n)
		if err != nil {
			return false
		}
		return re.MatchString(p)
	}
	dir := strings.TrimRight(n, "/")
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// MatchesAny reports whether path matches any of the given patterns.
func MatchesAny(path string, patterns []string) bool {
	for _, pat := range patterns {
		if matchOne(path, pat) {
			return true
		}
	}
	return false
}

// MatchesAllowed reports whether path is covered by the allow list. An empty
// list allows everything.
func MatchesAllowed(path string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	return MatchesAny(path, allowed)
}

// #endregion matching

// #region checks

// CheckPath is the per-action boundary gate. It returns the first violation
// the path triggers, or nil.
func (l Limits) CheckPath(path string) *Violation {
	p := Normalize(path)
	if MatchesAny(p, l.IllegalMoves) {
		return &Violation{Code: CodeForbiddenOutput, Paths: []string{p}}
	}
	if !MatchesAllowed(p, l.AllowedPaths) {
		return &Violation{Code: CodeOutsideAllowedPaths, Paths: []string{p}}
	}
	return nil
}

// CheckDiff audits a whole change set against the limits: path containment,
// illegal outputs, and budgets. The returned violations are ordered by code
// for stable reports.
func (l Limits) CheckDiff(changedPaths []string, changedLines int) []Violation {
	var out []Violation

	if len(l.AllowedPaths) > 0 {
		var bad []string
		for _, p := range changedPaths {
			if !MatchesAllowed(p, l.AllowedPaths) {
				bad = append(bad, Normalize(p))
			}
		}
		if len(bad) > 0 {
			out = append(out, Violation{Code: CodeOutsideAllowedPaths, Paths: bad})
		}
	}

	if len(l.IllegalMoves) > 0 {
		seen := make(map[string]bool)
		var hit []string
		for _, p := range changedPaths {
			n := Normalize(p)
			if MatchesAny(n, l.IllegalMoves) && !seen[n] {
				seen[n] = true
				hit = append(hit, n)
			}
		}
		if len(hit) > 0 {
			out = append(out, Violation{Code: CodeForbiddenOutput, Paths: hit})
		}
	}

	var breaches []BudgetBreach
	if l.MaxChangedFiles > 0 && len(changedPaths) > l.MaxChangedFiles {
		breaches = append(breaches, BudgetBreach{Name: "max_changed_files", Got: len(changedPaths), Limit: l.MaxChangedFiles})
	}
	if l.MaxChangedLines > 0 && changedLines > l.MaxChangedLines {
		breaches = append(breaches, BudgetBreach{Name: "max_changed_lines", Got: changedLines, Limit: l.MaxChangedLines})
	}
	if len(breaches) > 0 {
		out = append(out, Violation{Code: CodeBudgetExceeded, Breaches: breaches})
	}

	return out
}

// #endregion checks

// #region validate

// ValidatePatterns rejects glob patterns that cannot compile, so a broken
// contract fails at definition time rather than silently never matching.
func ValidatePatterns(patterns []string) error {
	for _, pat := range patterns {
		n := Normalize(pat)
		if !isPattern(n) {
			continue
		}
		if _, err := compilePattern(n); err != nil {
			return fmt.Errorf("bad pattern %q: %w", pat, err)
		}
	}
	return nil
}

// #endregion validate
