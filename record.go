package dbrobj

import "reflect"

// StructRecord adapts a registered struct instance to the Record interface.
// Column existence comes from the table registration, "explicit value" means
// a non-zero field (nil pointers count as unset), and change tracking works
// the way ObjUpdateDiff does: by comparing against a snapshot of the old
// object.  Without a snapshot no attribute reports changed.
type StructRecord struct {
	obj              interface{}
	ti               *TableInfo
	cols             map[string]bool
	orig             map[string]interface{} // nil means no change info
	partial          bool
	recordTimestamps bool
}

// NewRecord wraps obj (a pointer to a registered struct) for a full-row
// operation: partial writes disabled, no change tracking.
func (ti *TableInfo) NewRecord(obj interface{}) *StructRecord {
	return &StructRecord{
		obj:              obj,
		ti:               ti,
		cols:             ti.colSet(),
		recordTimestamps: ti.RecordTimestamps,
	}
}

// NewRecordDiff wraps obj for a changed-columns-only operation, tracking
// changes against oldObj (the previously loaded copy).
func (ti *TableInfo) NewRecordDiff(obj interface{}, oldObj interface{}) *StructRecord {
	r := &StructRecord{
		obj:              obj,
		ti:               ti,
		cols:             ti.colSet(),
		orig:             make(map[string]interface{}, 8),
		partial:          true,
		recordTimestamps: ti.RecordTimestamps,
	}
	for name := range r.cols {
		if v, err := FieldValue(oldObj, name); err == nil {
			r.orig[name] = v
		}
	}
	return r
}

func (ti *TableInfo) colSet() map[string]bool {
	names := ti.KeyAndColNames()
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// SetRecordTimestamps overrides the table-level timestamp toggle for this
// one record instance.
func (r *StructRecord) SetRecordTimestamps(on bool) *StructRecord {
	r.recordTimestamps = on
	return r
}

func (r *StructRecord) ColumnExists(name string) bool {
	return r.cols[name]
}

func (r *StructRecord) Attribute(name string) interface{} {
	v, err := FieldValue(r.obj, name)
	if err != nil {
		return nil
	}
	return v
}

func (r *StructRecord) AttributeIfPresent(name string) (interface{}, bool) {
	v, err := FieldValue(r.obj, name)
	if err != nil || isZeroOfUnderlyingType(v) {
		return nil, false
	}
	return v, true
}

func (r *StructRecord) SetAttribute(name string, value interface{}) {
	// only called for registered columns; a type mismatch means the model
	// declares a timestamp column over a non-time field
	if err := SetFieldValue(r.obj, name, value); err != nil {
		panic(err)
	}
}

func (r *StructRecord) AttributeChanged(name string) bool {
	if r.orig == nil {
		return false
	}
	cur, err := FieldValue(r.obj, name)
	if err != nil {
		return false
	}
	return !reflect.DeepEqual(cur, r.orig[name])
}

func (r *StructRecord) HasChanges() bool {
	if r.orig == nil {
		return true
	}
	for name := range r.cols {
		if r.AttributeChanged(name) {
			return true
		}
	}
	return false
}

func (r *StructRecord) ClearAttributes(names ...string) {
	for _, name := range names {
		if !r.cols[name] {
			continue
		}
		if err := SetFieldValue(r.obj, name, nil); err != nil {
			panic(err)
		}
		if r.orig != nil {
			v, err := FieldValue(r.obj, name)
			if err == nil {
				r.orig[name] = v
			}
		}
	}
}

func (r *StructRecord) RecordsTimestamps() bool {
	return r.recordTimestamps
}

func (r *StructRecord) TimeMode() TimeMode {
	return r.ti.TimeMode
}

func (r *StructRecord) PartialWrites() bool {
	return r.partial
}
