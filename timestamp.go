package dbrobj

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// notes on storage:
// - in MySQL, DATETIME is fine as long as values are written in UTC (which
//   TimeModeUTC, the default, ensures)
// - in SQLite it's TEXT or INTEGER - the mattn driver round-trips time.Time
//   through TEXT correctly for columns declared DATETIME/TIMESTAMP
// - in Postgres TIMESTAMP works, TIMESTAMPTZ if you want the zone kept
// Rule of thumb: leave TimeModeUTC alone and declare the column however your
// database spells "timestamp".

// CreateTimeCols and UpdateTimeCols are the column names maintained
// automatically, checked independently and in order.  Override at program
// init if your schema uses different conventions.
var CreateTimeCols = []string{"created_at", "created_on"}
var UpdateTimeCols = []string{"updated_at", "updated_on"}

// TimeMode selects which zone stamped values carry.
type TimeMode int

const (
	TimeModeUTC TimeMode = iota // default
	TimeModeLocal
)

// Record is what TimestampPolicy needs from a persistable thing.  StructRecord
// adapts registered struct types; tests or other persistence layers can
// provide their own.
type Record interface {

	// ColumnExists returns true if the record's schema has a stored column
	// with this name.
	ColumnExists(name string) bool

	// Attribute returns the current value of the named attribute.
	Attribute(name string) interface{}

	// AttributeIfPresent returns the current value and true only if the
	// attribute holds an explicitly-set (non-zero/non-nil) value.
	AttributeIfPresent(name string) (interface{}, bool)

	// SetAttribute assigns the named attribute in memory.
	SetAttribute(name string, value interface{})

	// AttributeChanged returns true if the attribute has been modified since
	// the record was loaded, within the current operation.
	AttributeChanged(name string) bool

	// HasChanges returns true if any attribute reports changed.
	HasChanges() bool

	// ClearAttributes resets the named attributes to their unset value and
	// drops their change tracking.
	ClearAttributes(names ...string)

	// RecordsTimestamps reports whether automatic timestamps are enabled for
	// this record.
	RecordsTimestamps() bool

	// TimeMode reports which zone stamped values should carry.
	TimeMode() TimeMode

	// PartialWrites reports whether the pending write includes only changed
	// attributes rather than the full row.
	PartialWrites() bool
}

// TimestampPolicy stamps creation and update time columns on records as they
// move through insert and update operations.  It holds no per-record state;
// the zero value works and uses the wall clock.
type TimestampPolicy struct {
	// Clock is the time source, swap for clock.NewMock() in tests.
	// Nil means the real clock.
	Clock clock.Clock
}

func NewTimestampPolicy() *TimestampPolicy {
	return &TimestampPolicy{Clock: clock.New()}
}

func (p *TimestampPolicy) clock() clock.Clock {
	if p != nil && p.Clock != nil {
		return p.Clock
	}
	return clock.New()
}

// CurrentTime returns the current instant in UTC for TimeModeUTC, in the
// process's local zone otherwise.  One call per operation, so every column
// stamped in the same insert or update gets an identical value.
func (p *TimestampPolicy) CurrentTime(mode TimeMode) time.Time {
	t := p.clock().Now()
	if mode == TimeModeLocal {
		return t.Local()
	}
	return t.UTC()
}

// OnCreate fills the creation time columns on a record about to be inserted.
// Columns missing from the schema are skipped, as are attributes the caller
// already set (a supplied value wins over the automatic one).  Mutates only
// in-memory state; the caller performs the actual insert afterward.
func (p *TimestampPolicy) OnCreate(r Record) {
	if !r.RecordsTimestamps() {
		return
	}
	now := p.CurrentTime(r.TimeMode())
	for _, name := range CreateTimeCols {
		if !r.ColumnExists(name) {
			continue
		}
		if _, ok := r.AttributeIfPresent(name); ok {
			continue
		}
		r.SetAttribute(name, now)
	}
}

// OnUpdate refreshes the update time columns on a record about to be written.
// touch=false suppresses stamping entirely (silent update paths).  When the
// pending write covers only changed attributes, a record with no changes is
// left alone - otherwise a logical no-op would turn into a timestamp-only
// write.  An attribute already changed in this operation keeps its value, so
// a caller-set updated_at wins over the automatic one.
func (p *TimestampPolicy) OnUpdate(r Record, touch bool) {
	if !touch {
		return
	}
	if !r.RecordsTimestamps() {
		return
	}
	if r.PartialWrites() && !r.HasChanges() {
		return
	}
	now := p.CurrentTime(r.TimeMode())
	for _, name := range UpdateTimeCols {
		if !r.ColumnExists(name) {
			continue
		}
		if r.AttributeChanged(name) {
			continue
		}
		r.SetAttribute(name, now)
	}
}

// ClearTimestamps unsets every creation and update time column that exists on
// the record's schema and drops their change tracking.  Call it on the copy
// after duplicating a record, so the copy doesn't inherit the source's
// timestamps or start out dirty on those columns - the next insert or update
// stamps it fresh.
func (p *TimestampPolicy) ClearTimestamps(r Record) {
	var names []string
	for _, name := range append(append([]string(nil), CreateTimeCols...), UpdateTimeCols...) {
		if r.ColumnExists(name) {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		r.ClearAttributes(names...)
	}
}

// MaxUpdatedTime returns the most recent time among the named attributes
// (UpdateTimeCols if none given), skipping names with no value.  found is
// false if no name yielded a value.  A value that can't be read as a time is
// an error.  Useful for staleness checks.
func MaxUpdatedTime(r Record, names ...string) (max time.Time, found bool, err error) {
	if len(names) == 0 {
		names = UpdateTimeCols
	}
	for _, name := range names {
		v, ok := r.AttributeIfPresent(name)
		if !ok {
			continue
		}
		t, err := toTime(v)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("attribute %q: %v", name, err)
		}
		if !found || t.After(max) {
			max = t
			found = true
		}
	}
	return max, found, nil
}

// time layouts tried for string attribute values, most specific first
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time pointer")
		}
		return *t, nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", t)
	}
	return time.Time{}, fmt.Errorf("cannot interpret %T as time", v)
}

// Timestamps can be embedded in a model struct to get the conventional pair
// of automatically maintained columns.
type Timestamps struct {
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
