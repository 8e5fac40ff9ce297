package boundary

import "testing"

func TestMatchesAllowed(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		allowed []string
		want    bool
	}{
		// Directory-prefix semantics for plain entries.
		{"exact-dir", "src", []string{"src"}, true},
		{"inside-dir", "src/main.go", []string{"src"}, true},
		{"nested-inside-dir", "src/a/b/c.go", []string{"src"}, true},
		{"sibling-prefix-name", "srcx/main.go", []string{"src"}, false},
		{"trailing-slash-entry", "docs/intro.md", []string{"docs/"}, true},

		// Glob semantics when metacharacters appear; * crosses slashes.
		{"star-glob", "notes/2026/feb.md", []string{"notes/*"}, true},
		{"star-suffix", "a/deep/file.md", []string{"*.md"}, true},
		{"question-mark", "log1.txt", []string{"log?.txt"}, true},
		{"char-class", "log7.txt", []string{"log[0-9].txt"}, true},
		{"negated-class", "loga.txt", []string{"log[!0-9].txt"}, true},
		{"negated-class-miss", "log5.txt", []string{"log[!0-9].txt"}, false},
		{"glob-miss", "notes.txt", []string{"*.md"}, false},

		// Normalization.
		{"dot-slash-path", "./src/main.go", []string{"src"}, true},
		{"backslash-path", "src\\main.go", []string{"src"}, true},

		// Empty allow list allows everything.
		{"empty-list", "anything/at/all", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesAllowed(tt.path, tt.allowed); got != tt.want {
				t.Errorf("MatchesAllowed(%q, %v): got %v, want %v", tt.path, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestCheckPath(t *testing.T) {
	l := Limits{
		AllowedPaths: []string{"study", "notes/*"},
		IllegalMoves: []string{"study/answers", "*.key"},
	}

	if v := l.CheckPath("study/unit3/drill.md"); v != nil {
		t.Fatalf("allowed path flagged: %+v", v)
	}
	if v := l.CheckPath("notes/2026/feb.md"); v != nil {
		t.Fatalf("allowed glob path flagged: %+v", v)
	}

	v := l.CheckPath("desk/todo.md")
	if v == nil || v.Code != CodeOutsideAllowedPaths {
		t.Fatalf("expected DIFF_OUTSIDE_ALLOWED_PATHS, got %+v", v)
	}

	// Illegal moves win even inside the allowed surface.
	v = l.CheckPath("study/answers/unit3.md")
	if v == nil || v.Code != CodeForbiddenOutput {
		t.Fatalf("expected FORBIDDEN_OUTPUT_PRESENT, got %+v", v)
	}
	v = l.CheckPath("study/exam.key")
	if v == nil || v.Code != CodeForbiddenOutput {
		t.Fatalf("expected FORBIDDEN_OUTPUT_PRESENT for glob, got %+v", v)
	}
}

func TestCheckDiff(t *testing.T) {
	l := Limits{
		AllowedPaths:    []string{"study"},
		IllegalMoves:    []string{"*.key"},
		MaxChangedFiles: 3,
		MaxChangedLines: 100,
	}

	// Clean diff: no violations.
	if vs := l.CheckDiff([]string{"study/a.md", "study/b.md"}, 40); len(vs) != 0 {
		t.Fatalf("clean diff flagged: %+v", vs)
	}

	// Everything wrong at once: one violation per code, stray paths listed.
	vs := l.CheckDiff([]string{"study/a.md", "desk/x.md", "study/exam.key", "study/c.md"}, 250)
	if len(vs) != 3 {
		t.Fatalf("expected 3 violations, got %+v", vs)
	}
	if vs[0].Code != CodeOutsideAllowedPaths || len(vs[0].Paths) != 1 || vs[0].Paths[0] != "desk/x.md" {
		t.Fatalf("unexpected outside-paths violation: %+v", vs[0])
	}
	if vs[1].Code != CodeForbiddenOutput || vs[1].Paths[0] != "study/exam.key" {
		t.Fatalf("unexpected forbidden-output violation: %+v", vs[1])
	}
	if vs[2].Code != CodeBudgetExceeded || len(vs[2].Breaches) != 2 {
		t.Fatalf("unexpected budget violation: %+v", vs[2])
	}
	if vs[2].Breaches[0].Name != "max_changed_files" || vs[2].Breaches[0].Got != 4 {
		t.Fatalf("unexpected file breach: %+v", vs[2].Breaches[0])
	}
	if vs[2].Breaches[1].Name != "max_changed_lines" || vs[2].Breaches[1].Got != 250 {
		t.Fatalf("unexpected line breach: %+v", vs[2].Breaches[1])
	}
}

func TestZeroBudgetsAreUnlimited(t *testing.T) {
	l := Limits{AllowedPaths: []string{"study"}}
	paths := make([]string, 500)
	for i := range paths {
		paths[i] = "study/f.md"
	}
	if vs := l.CheckDiff(paths, 1_000_000); len(vs) != 0 {
		t.Fatalf("unlimited budgets flagged: %+v", vs)
	}
}

func TestValidatePatterns(t *testing.T) {
	if err := ValidatePatterns([]string{"study", "*.md", "log[0-9].txt"}); err != nil {
		t.Fatalf("valid patterns rejected: %v", err)
	}
	// An unterminated class is treated as a literal bracket, not an error.
	if err := ValidatePatterns([]string{"broken[", "fine"}); err != nil {
		t.Fatalf("literal bracket pattern rejected: %v", err)
	}
}
