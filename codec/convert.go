package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	// ErrUnrepresentable is returned for values that have no JSON form.
	ErrUnrepresentable = errors.New("value has no JSON representation")
	// ErrMissingKey is returned when a required struct field is absent.
	ErrMissingKey = errors.New("missing required key")
	// ErrTypeMismatch is returned when a value has the wrong shape for its target.
	ErrTypeMismatch = errors.New("type mismatch")
)

// ConversionError locates a failed conversion inside a Value.
type ConversionError struct {
	Path string // dotted path, empty for the root
	Err  error
}

func (e *ConversionError) Error() string {
	if e.Path == "" {
		return "codec: " + e.Err.Error()
	}
	return fmt.Sprintf("codec: %s: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

var (
	valueType       = reflect.TypeOf(Value{})
	unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
)

// From captures any JSON-encodable Go value as a Value.
func From(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case *Value:
		if x == nil {
			return Value{}, nil
		}
		return *x, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, &ConversionError{Err: fmt.Errorf("%w: %v", ErrUnrepresentable, err)}
	}
	return Parse(data)
}

// MustFrom is From for values known to be encodable, such as literals in
// tests and method tables.
func MustFrom(v any) Value {
	val, err := From(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Into decodes v into a fresh T. See Value.Decode for the rules.
func Into[T any](v Value) (T, error) {
	var out T
	err := v.Decode(&out)
	return out, err
}

// Decode stores v into the value pointed to by out. Struct fields that are
// neither pointers nor tagged omitempty must be present, and null is only
// accepted where the target can hold it.
func (v Value) Decode(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &ConversionError{Err: fmt.Errorf("%w: decode target must be a non-nil pointer, got %T", ErrTypeMismatch, out)}
	}
	if err := checkShape(rv.Type().Elem(), v, ""); err != nil {
		return err
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ConversionError{
				Path: typeErr.Field,
				Err:  fmt.Errorf("%w: %s into %s", ErrTypeMismatch, typeErr.Value, typeErr.Type),
			}
		}
		return &ConversionError{Err: fmt.Errorf("%w: %v", ErrTypeMismatch, err)}
	}
	return nil
}

// checkShape walks t alongside v, enforcing the required-key and null rules
// that encoding/json does not.
func checkShape(t reflect.Type, v Value, path string) error {
	if t == valueType {
		return nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		if v.IsNull() {
			return nil
		}
		return checkShape(t.Elem(), v, path)
	case reflect.Interface:
		return nil
	}
	if reflect.PointerTo(t).Implements(unmarshalerType) {
		return nil
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Map:
		if v.IsNull() {
			return nil
		}
	default:
		if v.IsNull() {
			return &ConversionError{Path: path, Err: fmt.Errorf("%w: null into %s", ErrTypeMismatch, t)}
		}
	}

	switch t.Kind() {
	case reflect.Struct:
		if v.Kind() != KindObject {
			return &ConversionError{Path: path, Err: fmt.Errorf("%w: %s into %s", ErrTypeMismatch, v.Kind(), t)}
		}
		return checkStruct(t, v, path)
	case reflect.Slice, reflect.Array:
		if v.Kind() != KindArray {
			// []byte travels as a base64 string; let encoding/json judge it.
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkShape(t.Elem(), v.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	case reflect.Map:
		if v.Kind() != KindObject {
			return nil
		}
		for _, k := range v.Keys() {
			f, _ := v.Field(k)
			if err := checkShape(t.Elem(), f, joinPath(path, k)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkStruct(t reflect.Type, v Value, path string) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Struct {
				if err := checkStruct(ft, v, path); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		fv, ok := lookupField(v, name)
		if !ok {
			if isOptional(f.Type, opts) {
				continue
			}
			return &ConversionError{Path: joinPath(path, name), Err: ErrMissingKey}
		}
		if err := checkShape(f.Type, fv, joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// lookupField matches keys the way encoding/json does: exact first, then
// case-insensitive.
func lookupField(v Value, name string) (Value, bool) {
	if f, ok := v.Field(name); ok {
		return f, true
	}
	for _, k := range v.Keys() {
		if strings.EqualFold(k, name) {
			f, _ := v.Field(k)
			return f, true
		}
	}
	return Value{}, false
}

func isOptional(t reflect.Type, opts string) bool {
	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			return true
		}
	}
	return t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
