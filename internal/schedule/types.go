package schedule

import "time"

// #region window-kind

// WindowKind distinguishes the two legal homes for CTX work.
type WindowKind string

const (
	// KindContext is a scheduled context block: the planned weekly slot for
	// context work.
	KindContext WindowKind = "CONTEXT"
	// KindDeferred is a deferred window: an overflow slot where context work
	// is tolerated.
	KindDeferred WindowKind = "DEFERRED"
)

// IsValid reports whether k is a known window kind.
func (k WindowKind) IsValid() bool { return k == KindContext || k == KindDeferred }

// #endregion window-kind

// #region entry

// Entry is one weekly window: a day of week plus a half-open [Start, End)
// wall-clock range in the template's timezone.
type Entry struct {
	Day   string     `yaml:"day"`
	Start string     `yaml:"start"`
	End   string     `yaml:"end"`
	Kind  WindowKind `yaml:"kind"`

	weekday  time.Weekday
	startMin int
	endMin   int
}

// #endregion entry

// #region template

// Template is a versioned weekly schedule. Ranges are validated
// non-overlapping at load; queries after that are pure functions of the
// timestamp.
type Template struct {
	Version  string  `yaml:"version"`
	Timezone string  `yaml:"timezone"`
	Entries  []Entry `yaml:"entries"`

	loc *time.Location
}

// #endregion template

// #region verdict

// WindowVerdict is the scheduler's answer for one timestamp.
type WindowVerdict struct {
	IsContextBlock   bool
	IsDeferredWindow bool
}

// PermitsCTX reports whether CTX work is legal at the queried time.
func (v WindowVerdict) PermitsCTX() bool { return v.IsContextBlock || v.IsDeferredWindow }

// #endregion verdict
