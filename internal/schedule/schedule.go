package schedule

// #region imports
import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// #endregion

// #region load

// Load reads a weekly template from a YAML file. A missing file yields an
// empty template, under which CTX work is never legal; a malformed or
// overlapping template is a fatal configuration error.
func Load(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates template YAML.
func Parse(raw []byte) (*Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var t Template
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	return &t, nil
}

// Empty returns a template with no windows. Queries against it always answer
// no, so it is the safe default when no schedule has been configured.
func Empty() *Template {
	return &Template{Version: "0", Timezone: "UTC", loc: time.UTC}
}

// #endregion load

// #region compile

var dayTokens = map[string]time.Weekday{
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
	"SUN": time.Sunday,
}

// compile resolves tokens, checks every entry, and rejects overlapping
// ranges. Overlap is checked across kinds: the week must be unambiguous by
// construction.
func (t *Template) compile() error {
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", t.Timezone, err)
	}
	t.loc = loc

	for i := range t.Entries {
		e := &t.Entries[i]
		wd, ok := dayTokens[e.Day]
		if !ok {
			return fmt.Errorf("entry %d: unknown day %q", i, e.Day)
		}
		e.weekday = wd
		if !e.Kind.IsValid() {
			return fmt.Errorf("entry %d: unknown kind %q", i, e.Kind)
		}
		e.startMin, err = parseClock(e.Start)
		if err != nil {
			return fmt.Errorf("entry %d: start: %w", i, err)
		}
		e.endMin, err = parseClock(e.End)
		if err != nil {
			return fmt.Errorf("entry %d: end: %w", i, err)
		}
		if e.endMin <= e.startMin {
			return fmt.Errorf("entry %d: range %s-%s is empty or crosses midnight", i, e.Start, e.End)
		}
	}

	// Sort a copy per day and reject any pair whose ranges intersect.
	byDay := make(map[time.Weekday][]Entry)
	for _, e := range t.Entries {
		byDay[e.weekday] = append(byDay[e.weekday], e)
	}
	for wd, entries := range byDay {
		sort.Slice(entries, func(i, j int) bool { return entries[i].startMin < entries[j].startMin })
		for i := 1; i < len(entries); i++ {
			prev, cur := entries[i-1], entries[i]
			if cur.startMin < prev.endMin {
				return fmt.Errorf("%s: %s-%s overlaps %s-%s", wd, prev.Start, prev.End, cur.Start, cur.End)
			}
		}
	}

	return nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	c, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q", s)
	}
	return c.Hour()*60 + c.Minute(), nil
}

// #endregion compile

// #region queries

// at returns the entry covering ts, if any. Ranges are half-open: a window
// contains its start minute and excludes its end minute.
func (t *Template) at(ts time.Time) (Entry, bool) {
	local := ts.In(t.loc)
	minute := local.Hour()*60 + local.Minute()
	for _, e := range t.Entries {
		if e.weekday == local.Weekday() && minute >= e.startMin && minute < e.endMin {
			return e, true
		}
	}
	return Entry{}, false
}

// IsContextBlock reports whether ts falls inside a scheduled context block.
func (t *Template) IsContextBlock(ts time.Time) bool {
	e, ok := t.at(ts)
	return ok && e.Kind == KindContext
}

// IsDeferredWindow reports whether ts falls inside a deferred window.
func (t *Template) IsDeferredWindow(ts time.Time) bool {
	e, ok := t.at(ts)
	return ok && e.Kind == KindDeferred
}

// Verdict answers both window questions for one timestamp.
func (t *Template) Verdict(ts time.Time) WindowVerdict {
	e, ok := t.at(ts)
	if !ok {
		return WindowVerdict{}
	}
	return WindowVerdict{
		IsContextBlock:   e.Kind == KindContext,
		IsDeferredWindow: e.Kind == KindDeferred,
	}
}

// Location returns the timezone the template is expressed in. Day-scoped
// accounting uses it so "per day" means the schedule's day, not the host's.
func (t *Template) Location() *time.Location { return t.loc }

// #endregion queries
