package dbrobj

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gocraft/dbr/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	_ "github.com/mattn/go-sqlite3"
)

func TestSqlite3(t *testing.T) {

	assert := assert.New(t)

	dsn := fmt.Sprintf(`file:testdb%v?mode=memory&cache=shared`, time.Now().UnixNano())
	conn, err := dbr.Open("sqlite3", dsn, nil)
	assert.NoError(err)

	_, err = conn.Exec(`
CREATE TABLE widget (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
)
`)
	assert.NoError(err)

	_, err = conn.Exec(`
CREATE TABLE note (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	body TEXT,
	created_on TIMESTAMP
)
`)
	assert.NoError(err)

	_, err = conn.Exec(`
CREATE TABLE metric (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT,
	created_at TIMESTAMP
)
`)
	assert.NoError(err)

	runTests(t, "sqlite3", dsn)

}

// All of the testing goes in here, so other drivers can reuse it by doing
// their own connection and table setup and calling this.
func runTests(t *testing.T, driver, dsn string) {

	assert := assert.New(t)

	type Widget struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
		Timestamps
	}

	type Note struct {
		ID        int       `db:"id"`
		Body      string    `db:"body"`
		CreatedOn time.Time `db:"created_on"`
	}

	type Metric struct {
		ID        int       `db:"id"`
		Label     string    `db:"label"`
		CreatedAt time.Time `db:"created_at"`
	}

	dbrConn, err := dbr.Open(driver, dsn, nil)
	assert.NoError(err)

	t0 := time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC)
	mock := clock.NewMock()
	mock.Set(t0)

	config := NewConfig()
	config.Timestamps.Clock = mock
	config.AddTableWithName(&Widget{}, "widget").SetKeys(true, []string{"id"})
	config.AddTableWithName(&Note{}, "note").SetKeys(true, []string{"id"})
	config.AddTableWithName(&Metric{}, "metric").SetKeys(true, []string{"id"}).SetRecordTimestamps(false)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sess := config.NewConnection(dbrConn).NewSession(NewLogrusEventReceiver(logger))

	// insert stamps created_at and leaves updated_at alone
	w := Widget{Name: "w1"}
	assert.NoError(sess.ObjInsert(&w))
	if w.ID <= 0 {
		t.Fatalf("w.ID is %v instead of >= 1", w.ID)
	}
	assert.True(w.CreatedAt.Equal(t0))
	assert.True(w.UpdatedAt.IsZero())

	loaded := Widget{}
	assert.NoError(sess.ObjGet(&loaded, w.ID))
	assert.True(loaded.CreatedAt.Equal(t0))
	assert.True(loaded.UpdatedAt.IsZero())

	// full-row update stamps updated_at, created_at stays
	mock.Add(time.Hour)
	t1 := t0.Add(time.Hour)
	assert.NoError(sess.ObjUpdate(&w))
	assert.True(w.UpdatedAt.Equal(t1))
	assert.True(w.CreatedAt.Equal(t0))

	loaded = Widget{}
	assert.NoError(sess.ObjGet(&loaded, w.ID))
	assert.True(loaded.UpdatedAt.Equal(t1))

	// diff update with nothing changed issues no write and no stamp
	mock.Add(time.Hour)
	prev := w
	assert.NoError(sess.ObjUpdateDiff(&w, &prev))
	assert.True(w.UpdatedAt.Equal(t1))

	// diff update with a change stamps
	mock.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)
	prev = w
	w.Name = "w2"
	assert.NoError(sess.ObjUpdateDiff(&w, &prev))
	assert.True(w.UpdatedAt.Equal(t3))

	loaded = Widget{}
	assert.NoError(sess.ObjGet(&loaded, w.ID))
	assert.Equal("w2", loaded.Name)
	assert.True(loaded.UpdatedAt.Equal(t3))

	// caller-assigned updated_at wins over the automatic stamp
	mock.Add(time.Hour)
	callerSet := t0.Add(-time.Hour)
	prev = w
	w.Name = "w3"
	w.UpdatedAt = callerSet
	assert.NoError(sess.ObjUpdateDiff(&w, &prev))
	assert.True(w.UpdatedAt.Equal(callerSet))

	loaded = Widget{}
	assert.NoError(sess.ObjGet(&loaded, w.ID))
	assert.True(loaded.UpdatedAt.Equal(callerSet))

	// the no-touch paths never stamp
	mock.Add(time.Hour)
	prev = w
	w.Name = "w4"
	assert.NoError(sess.ObjUpdateDiffNoTouch(&w, &prev))
	assert.True(w.UpdatedAt.Equal(callerSet))

	mock.Add(time.Hour)
	w.Name = "w5"
	assert.NoError(sess.ObjUpdateNoTouch(&w))
	assert.True(w.UpdatedAt.Equal(callerSet))

	// touch bumps updated_at and nothing else
	mock.Add(time.Hour)
	touchedAt := mock.Now().UTC()
	assert.NoError(sess.ObjTouch(&w))
	assert.True(w.UpdatedAt.Equal(touchedAt))

	loaded = Widget{}
	assert.NoError(sess.ObjGet(&loaded, w.ID))
	assert.Equal("w5", loaded.Name)
	assert.True(loaded.UpdatedAt.Equal(touchedAt))

	// a duplicate gets its timestamps cleared and stamped fresh on insert
	dup := w
	dup.ID = 0
	assert.NoError(sess.ObjClearTimestamps(&dup))
	assert.True(dup.CreatedAt.IsZero())
	assert.True(dup.UpdatedAt.IsZero())

	mock.Add(time.Hour)
	dupAt := mock.Now().UTC()
	assert.NoError(sess.ObjInsert(&dup))
	assert.NotEqual(w.ID, dup.ID)
	assert.True(dup.CreatedAt.Equal(dupAt))
	assert.True(dup.UpdatedAt.IsZero())

	// a table with only created_on: the other three names are silent no-ops
	n := Note{Body: "note1"}
	noteAt := mock.Now().UTC()
	assert.NoError(sess.ObjInsert(&n))
	assert.True(n.CreatedOn.Equal(noteAt))

	// updating it works, there's just nothing to stamp
	n.Body = "note2"
	assert.NoError(sess.ObjUpdate(&n))

	// but an explicit touch has nowhere to write
	assert.Error(sess.ObjTouch(&n))

	// a table opted out of timestamps is never stamped
	m := Metric{Label: "m1"}
	assert.NoError(sess.ObjInsert(&m))
	assert.True(m.CreatedAt.IsZero())

	// test transactions
	{
		w2 := Widget{Name: "tx1"}

		tx, err := sess.Begin()
		assert.NoError(err)

		txAt := mock.Now().UTC()
		assert.NoError(tx.ObjInsert(&w2))
		assert.True(w2.CreatedAt.Equal(txAt))

		mock.Add(time.Minute)
		txUpdAt := mock.Now().UTC()
		assert.NoError(tx.ObjUpdate(&w2))
		assert.True(w2.UpdatedAt.Equal(txUpdAt))

		assert.NoError(tx.Commit())

		loaded = Widget{}
		assert.NoError(sess.ObjGet(&loaded, w2.ID))
		assert.True(loaded.CreatedAt.Equal(txAt))
		assert.True(loaded.UpdatedAt.Equal(txUpdAt))

		assert.NoError(sess.ObjDelete(&loaded))
	}

	// staleness helper against a real loaded record
	ti := config.TableFor(&w)
	max, found, err := MaxUpdatedTime(ti.NewRecord(&w))
	assert.NoError(err)
	assert.True(found)
	assert.True(max.Equal(touchedAt))

	assert.NoError(sess.ObjDelete(&w, w.ID))
	assert.Error(sess.ObjDelete(&w, w.ID))

}
