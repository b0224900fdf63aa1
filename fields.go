package dbrobj

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

var ErrNoField = fmt.Errorf("field not found")
var ErrNoTable = fmt.Errorf("table not found for object/type")

// CamelToSnake maps Go field/type names to SQL names: "FirstName" becomes
// "first_name", runs of capitals stay together so "PersonAI" becomes
// "person_ai" and "ID" becomes "id".
func CamelToSnake(s string) string {
	runes := []rune(s)
	out := make([]rune, 0, len(runes)+4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				out = append(out, '_')
			}
			out = append(out, unicode.ToLower(r))
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

func DerefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func DerefValue(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

func isZeroOfUnderlyingType(x interface{}) bool {
	if x == nil {
		return true
	}
	return reflect.DeepEqual(x, reflect.Zero(reflect.TypeOf(x)).Interface())
}

// sqlFieldName resolves the SQL name of a struct field from its db tag,
// falling back to FieldNameMapper; "-" means skipped.
func sqlFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("db"), ",", 2)[0]
	if name == "-" {
		return "-"
	}
	if name == "" {
		name = FieldNameMapper(f.Name)
	}
	return name
}

// isEmbedded reports whether this field is an anonymous struct whose fields
// should be flattened into the parent (the Timestamps embedding case).
func isEmbedded(f reflect.StructField) bool {
	return f.Anonymous && f.Tag.Get("db") == "" && DerefType(f.Type).Kind() == reflect.Struct
}

type fieldIndexCacheKey struct {
	Type         reflect.Type
	SQLFieldName string
}

var fieldIndexCache = make(map[fieldIndexCacheKey][]int, 16)
var fieldIndexMutex sync.Mutex

// FieldIndex returns the index path of the struct field with the given SQL
// name, descending into anonymous embedded structs.  Use with
// reflect.Value.FieldByIndex.
func FieldIndex(obj interface{}, sqlFieldName string) (out []int, rete error) {

	t := DerefType(reflect.TypeOf(obj))

	fieldIndexMutex.Lock()
	ret, ok := fieldIndexCache[fieldIndexCacheKey{t, sqlFieldName}]
	fieldIndexMutex.Unlock()
	if ok {
		return ret, nil
	}

	// record result in cache if not error
	defer func() {
		if rete == nil {
			fieldIndexMutex.Lock()
			fieldIndexCache[fieldIndexCacheKey{t, sqlFieldName}] = out
			fieldIndexMutex.Unlock()
		}
	}()

	path := findFieldIndex(t, sqlFieldName)
	if path == nil {
		return nil, ErrNoField
	}
	return path, nil
}

func findFieldIndex(t reflect.Type, name string) []int {
	for j := 0; j < t.NumField(); j++ {
		f := t.Field(j)
		if isEmbedded(f) {
			if sub := findFieldIndex(DerefType(f.Type), name); sub != nil {
				return append([]int{j}, sub...)
			}
			continue
		}
		fn := sqlFieldName(f)
		if fn == "-" {
			continue
		}
		if fn == name {
			return []int{j}
		}
	}
	return nil
}

// FieldValue returns the value of the struct field with the given SQL name.
func FieldValue(obj interface{}, sqlFieldName string) (interface{}, error) {

	i, err := FieldIndex(obj, sqlFieldName)
	if err != nil {
		return nil, err
	}

	v := DerefValue(reflect.ValueOf(obj))
	return v.FieldByIndex(i).Interface(), nil

}

// SetFieldValue assigns the struct field with the given SQL name.  A nil
// value zeroes the field.  Values are converted where possible, and a plain
// value assigned to a pointer field gets boxed.
func SetFieldValue(obj interface{}, sqlFieldName string, value interface{}) error {

	i, err := FieldIndex(obj, sqlFieldName)
	if err != nil {
		return err
	}

	v := DerefValue(reflect.ValueOf(obj))
	fv := v.FieldByIndex(i)
	if !fv.CanSet() {
		return fmt.Errorf("field %q is not settable (pass a pointer to struct)", sqlFieldName)
	}

	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(fv.Type()):
		fv.Set(rv)
	case fv.Kind() == reflect.Ptr && rv.Type().AssignableTo(fv.Type().Elem()):
		pv := reflect.New(fv.Type().Elem())
		pv.Elem().Set(rv)
		fv.Set(pv)
	case rv.Type().ConvertibleTo(fv.Type()):
		fv.Set(rv.Convert(fv.Type()))
	default:
		return fmt.Errorf("cannot assign %T to field %q", value, sqlFieldName)
	}
	return nil
}
