package dbrobj

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/gocraft/dbr/v2"
)

var TableNameMapper = CamelToSnake
var FieldNameMapper = CamelToSnake

type TableInfo struct {
	GoType      reflect.Type // underlying Go type (pointer removed)
	TableName   string       // SQL table name
	KeyNames    []string     // SQL primary key field names
	KeyAutoIncr bool         // true if keys are auto-incremented by the database

	// RecordTimestamps enables automatic maintenance of the creation and
	// update time columns (on by default).  Set at registration, never
	// mutated afterward.
	RecordTimestamps bool

	// TimeMode selects the zone stamped timestamps carry (UTC by default).
	TimeMode TimeMode
}

func (ti *TableInfo) SetKeys(isAutoIncr bool, keyNames []string) *TableInfo {
	ti.KeyAutoIncr = isAutoIncr
	ti.KeyNames = keyNames
	return ti
}

func (ti *TableInfo) SetRecordTimestamps(on bool) *TableInfo {
	ti.RecordTimestamps = on
	return ti
}

func (ti *TableInfo) SetTimeMode(mode TimeMode) *TableInfo {
	ti.TimeMode = mode
	return ti
}

func (ti *TableInfo) ColNames() []string {
	names := ti.KeyAndColNames()
	ret := make([]string, 0, len(names)-len(ti.KeyNames))
nameLoop:
	for i := 0; i < len(names); i++ {
		name := names[i]
		for _, keyName := range ti.KeyNames {
			if keyName == name {
				continue nameLoop
			}
		}
		ret = append(ret, name)
	}
	return ret
}

func (ti *TableInfo) KeyAndColNames() []string {
	return appendColNames(ti.GoType, nil)
}

// appendColNames collects SQL column names from a struct type, flattening
// anonymous embedded structs (e.g. an embedded Timestamps).
func appendColNames(t reflect.Type, ret []string) []string {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if isEmbedded(f) {
			ret = appendColNames(DerefType(f.Type), ret)
			continue
		}
		name := sqlFieldName(f)
		if name == "-" {
			continue
		}
		ret = append(ret, name)
	}
	return ret
}

type Config struct {
	TableInfoMap

	// Timestamps stamps creation/update time columns during ObjInsert and
	// the ObjUpdate variants.
	Timestamps *TimestampPolicy
}

// NewConfig returns a new Config, properly initialized.
func NewConfig() *Config {
	return &Config{
		TableInfoMap: make(TableInfoMap),
		Timestamps:   NewTimestampPolicy(),
	}
}

func (c *Config) NewConnection(dbrConn *dbr.Connection) *Connection {
	return &Connection{
		Connection:   dbrConn,
		TableInfoMap: c.TableInfoMap,
		Timestamps:   c.Timestamps,
	}
}

type TableInfoMap map[reflect.Type]*TableInfo

func (m TableInfoMap) AddTable(i interface{}) *TableInfo {
	return m.AddTableWithName(i, TableNameMapper(DerefType(reflect.TypeOf(i)).Name()))
}

func (m TableInfoMap) AddTableWithName(i interface{}, tableName string) *TableInfo {

	t := DerefType(reflect.TypeOf(i))
	tableInfo := m[t]
	if tableInfo != nil {
		if tableInfo.TableName != tableName {
			panic(fmt.Errorf("attempt to call AddTableWithName with a different name (expected %q, got %q)", tableInfo.TableName, tableName))
		}
		return tableInfo
	}

	tableInfo = &TableInfo{
		GoType:           t,
		TableName:        tableName,
		RecordTimestamps: true,
		TimeMode:         TimeModeUTC,
	}

	m[t] = tableInfo

	return tableInfo

}

func (m TableInfoMap) TableFor(i interface{}) *TableInfo {
	return m.TableForType(reflect.TypeOf(i))
}

func (m TableInfoMap) TableForType(t reflect.Type) *TableInfo {
	return m[DerefType(t)]
}

type Connection struct {
	TableInfoMap
	Timestamps *TimestampPolicy

	*dbr.Connection
}

func (c *Connection) NewSession(log dbr.EventReceiver) *Session {
	sess := c.Connection.NewSession(log)
	return &Session{
		TableInfoMap: c.TableInfoMap,
		Timestamps:   c.Timestamps,
		Session:      sess,
	}
}

type Session struct {
	TableInfoMap
	Timestamps *TimestampPolicy

	*dbr.Session
}

func (s *Session) Begin() (*Tx, error) {
	tx, err := s.Session.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{
		TableInfoMap: s.TableInfoMap,
		Timestamps:   s.Timestamps,
		Tx:           tx,
	}, nil
}

func (s *Session) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := s.Session.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{
		TableInfoMap: s.TableInfoMap,
		Timestamps:   s.Timestamps,
		Tx:           tx,
	}, nil
}

type Tx struct {
	TableInfoMap
	Timestamps *TimestampPolicy

	*dbr.Tx
}

func (s *Session) ObjGet(obj interface{}, pk ...interface{}) error {
	ti := s.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	fields := ti.KeyAndColNames()
	sb := s.Select(fields...)
	return objGet(sb, ti, obj, pk...)
}

func (s *Session) ObjInsert(obj interface{}) error {
	ti := s.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ib := s.InsertInto(ti.TableName)
	return objInsert(ib, ti, s.Timestamps, obj)
}

func (s *Session) ObjUpdate(obj interface{}) error {
	ti := s.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ub := s.Update(ti.TableName)
	return objUpdate(ub, ti, s.Timestamps, obj, true)
}

// ObjUpdateNoTouch is ObjUpdate without the automatic update timestamp
// refresh, for silent/bulk paths.
func (s *Session) ObjUpdateNoTouch(obj interface{}) error {
	ti := s.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ub := s.Update(ti.TableName)
	return objUpdate(ub, ti, s.Timestamps, obj, false)
}

func (s *Session) ObjUpdateDiff(newObj interface{}, oldObj interface{}) error {
	ti := s.TableInfoMap.TableFor(newObj)
	if ti == nil {
		return ErrNoTable
	}
	ub := s.Update(ti.TableName)
	return objUpdateDiff(ub, ti, s.Timestamps, newObj, oldObj, true)
}

func (s *Session) ObjUpdateDiffNoTouch(newObj interface{}, oldObj interface{}) error {
	ti := s.TableInfoMap.TableFor(newObj)
	if ti == nil {
		return ErrNoTable
	}
	ub := s.Update(ti.TableName)
	return objUpdateDiff(ub, ti, s.Timestamps, newObj, oldObj, false)
}

// ObjTouch writes a fresh update timestamp for this record, and nothing else.
func (s *Session) ObjTouch(obj interface{}) error {
	ti := s.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ub := s.Update(ti.TableName)
	return objTouch(ub, ti, s.Timestamps, obj)
}

// ObjClearTimestamps unsets the timestamp columns on obj in memory, e.g.
// after copying it from another record.  No SQL is issued.
func (s *Session) ObjClearTimestamps(obj interface{}) error {
	ti := s.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	s.Timestamps.ClearTimestamps(ti.NewRecord(obj))
	return nil
}

func (s *Session) ObjDelete(obj interface{}, pk ...interface{}) error {
	ti := s.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	db := s.DeleteFrom(ti.TableName)
	return objDelete(db, ti, obj, pk...)
}

func (tx *Tx) ObjGet(obj interface{}, pk ...interface{}) error {
	ti := tx.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	fields := ti.KeyAndColNames()
	sb := tx.Select(fields...)
	return objGet(sb, ti, obj, pk...)
}

func (tx *Tx) ObjInsert(obj interface{}) error {
	ti := tx.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ib := tx.InsertInto(ti.TableName)
	return objInsert(ib, ti, tx.Timestamps, obj)
}

func (tx *Tx) ObjUpdate(obj interface{}) error {
	ti := tx.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ub := tx.Update(ti.TableName)
	return objUpdate(ub, ti, tx.Timestamps, obj, true)
}

func (tx *Tx) ObjUpdateNoTouch(obj interface{}) error {
	ti := tx.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ub := tx.Update(ti.TableName)
	return objUpdate(ub, ti, tx.Timestamps, obj, false)
}

func (tx *Tx) ObjUpdateDiff(newObj interface{}, oldObj interface{}) error {
	ti := tx.TableInfoMap.TableFor(newObj)
	if ti == nil {
		return ErrNoTable
	}
	ub := tx.Update(ti.TableName)
	return objUpdateDiff(ub, ti, tx.Timestamps, newObj, oldObj, true)
}

func (tx *Tx) ObjUpdateDiffNoTouch(newObj interface{}, oldObj interface{}) error {
	ti := tx.TableInfoMap.TableFor(newObj)
	if ti == nil {
		return ErrNoTable
	}
	ub := tx.Update(ti.TableName)
	return objUpdateDiff(ub, ti, tx.Timestamps, newObj, oldObj, false)
}

func (tx *Tx) ObjTouch(obj interface{}) error {
	ti := tx.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	ub := tx.Update(ti.TableName)
	return objTouch(ub, ti, tx.Timestamps, obj)
}

func (tx *Tx) ObjClearTimestamps(obj interface{}) error {
	ti := tx.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	tx.Timestamps.ClearTimestamps(ti.NewRecord(obj))
	return nil
}

func (tx *Tx) ObjDelete(obj interface{}, pk ...interface{}) error {
	ti := tx.TableInfoMap.TableFor(obj)
	if ti == nil {
		return ErrNoTable
	}
	db := tx.DeleteFrom(ti.TableName)
	return objDelete(db, ti, obj, pk...)
}

func pkFromObj(ti *TableInfo, obj interface{}) ([]interface{}, error) {
	var ret []interface{}
	for _, kname := range ti.KeyNames {
		fv, err := FieldValue(obj, kname)
		if err != nil {
			return nil, err
		}
		ret = append(ret, fv)
	}
	return ret, nil
}

func objGet(sb *dbr.SelectStmt, ti *TableInfo, obj interface{}, pk ...interface{}) error {

	var err error

	// populate pk if empty
	if len(pk) == 0 {
		pk, err = pkFromObj(ti, obj)
		if err != nil {
			return err
		}
	} else if len(pk) != len(ti.KeyNames) {
		return fmt.Errorf("incorrect number of pk values, expected %d got %d", len(ti.KeyNames), len(pk))
	}

	selB := sb.From(ti.TableName)
	for j := 0; j < len(ti.KeyNames); j++ {
		selB = selB.Where(ti.KeyNames[j]+"=?", pk[j])
	}

	return selB.LoadOne(obj)
}

func objInsert(ib *dbr.InsertStmt, ti *TableInfo, ts *TimestampPolicy, obj interface{}) error {

	ts.OnCreate(ti.NewRecord(obj))

	var names []string
	if ti.KeyAutoIncr {
		names = ti.ColNames()
	} else {
		names = ti.KeyAndColNames()
	}
	ib = ib.Columns(names...)
	var values []interface{}
	for _, name := range names {
		fv, err := FieldValue(obj, name)
		if err != nil {
			return fmt.Errorf("error reading field %q: %v", name, err)
		}
		values = append(values, fv)
	}
	ib = ib.Values(values...)
	res, err := ib.Exec()
	if err != nil {
		return err
	}
	if ti.KeyAutoIncr {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		fi, err := FieldIndex(obj, ti.KeyNames[0])
		if err != nil {
			return fmt.Errorf("error finding key field %q: %v", ti.KeyNames[0], err)
		}
		v := DerefValue(reflect.ValueOf(obj))
		v.FieldByIndex(fi).SetInt(id)
	}
	return err
}

func objUpdate(ub *dbr.UpdateStmt, ti *TableInfo, ts *TimestampPolicy, obj interface{}, touch bool) error {

	// full-row write: partial writes disabled, no dirty info available
	ts.OnUpdate(ti.NewRecord(obj), touch)

	for _, name := range ti.ColNames() {
		fv, err := FieldValue(obj, name)
		if err != nil {
			return fmt.Errorf("error reading value field %q: %v", name, err)
		}
		ub = ub.Set(name, fv)
	}

	for _, kn := range ti.KeyNames {
		fv, err := FieldValue(obj, kn)
		if err != nil {
			return fmt.Errorf("error reading key field %q: %v", kn, err)
		}
		ub = ub.Where(kn+"=?", fv)
	}

	_, err := ub.Exec()

	return err

}

func objUpdateDiff(ub *dbr.UpdateStmt, ti *TableInfo, ts *TimestampPolicy, newObj interface{}, oldObj interface{}, touch bool) error {

	// changed-columns-only write: a no-op diff stays a no-op, and a
	// caller-set timestamp shows up as changed and is left alone
	ts.OnUpdate(ti.NewRecordDiff(newObj, oldObj), touch)

	nset := 0
	for _, name := range ti.ColNames() {
		newfv, err := FieldValue(newObj, name)
		if err != nil {
			return fmt.Errorf("error reading new value field %q: %v", name, err)
		}
		oldfv, err := FieldValue(oldObj, name)
		if err != nil {
			return fmt.Errorf("error reading old value field %q: %v", name, err)
		}

		if !reflect.DeepEqual(newfv, oldfv) {
			ub = ub.Set(name, newfv)
			nset++
		}

	}

	// nothing changed, issue no SQL
	if nset == 0 {
		return nil
	}

	for _, kn := range ti.KeyNames {
		fv, err := FieldValue(newObj, kn)
		if err != nil {
			return fmt.Errorf("error reading key field %q: %v", kn, err)
		}
		ub = ub.Where(kn+"=?", fv)
	}

	_, err := ub.Exec()

	return err

}

func objTouch(ub *dbr.UpdateStmt, ti *TableInfo, ts *TimestampPolicy, obj interface{}) error {

	rec := ti.NewRecord(obj)
	now := ts.CurrentTime(ti.TimeMode)

	nset := 0
	for _, name := range UpdateTimeCols {
		if !rec.ColumnExists(name) {
			continue
		}
		rec.SetAttribute(name, now)
		ub = ub.Set(name, now)
		nset++
	}
	if nset == 0 {
		return fmt.Errorf("no update timestamp columns on table %q", ti.TableName)
	}

	for _, kn := range ti.KeyNames {
		fv, err := FieldValue(obj, kn)
		if err != nil {
			return fmt.Errorf("error reading key field %q: %v", kn, err)
		}
		ub = ub.Where(kn+"=?", fv)
	}

	_, err := ub.Exec()

	return err

}

func objDelete(db *dbr.DeleteStmt, ti *TableInfo, obj interface{}, pk ...interface{}) error {

	var err error

	// populate pk if empty
	if len(pk) == 0 {
		pk, err = pkFromObj(ti, obj)
		if err != nil {
			return err
		}
	} else if len(pk) != len(ti.KeyNames) {
		return fmt.Errorf("incorrect number of pk values, expected %d got %d", len(ti.KeyNames), len(pk))
	}

	for idx, keyName := range ti.KeyNames {
		db = db.Where(keyName+"=?", pk[idx])
	}
	res, err := db.Exec()
	if err != nil {
		return err
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if ra < 1 {
		return dbr.ErrNotFound
	}
	return nil
}
