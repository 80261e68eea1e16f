// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"reflect"
	"strconv"

	"github.com/juju/errors"
)

// Kind identifies which of the JSON value types a Value holds.
type Kind int

const (
	NullKind Kind = iota
	BoolKind
	NumberKind
	StringKind
	ArrayKind
	ObjectKind
)

var kindNames = map[Kind]string{
	NullKind:   "null",
	BoolKind:   "bool",
	NumberKind: "number",
	StringKind: "string",
	ArrayKind:  "array",
	ObjectKind: "object",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Member is a single key/value pair of a JSON object. Objects keep
// their members in the order they were decoded or constructed.
type Member struct {
	Key   string
	Value Value
}

// Value holds any legally JSON-representable value. The zero Value
// is JSON null.
type Value struct {
	kind    Kind
	boolean bool
	number  json.Number
	str     string
	array   []Value
	object  []Member
}

// Null returns the JSON null value.
func Null() Value {
	return Value{}
}

// Bool returns a JSON boolean.
func Bool(b bool) Value {
	return Value{kind: BoolKind, boolean: b}
}

// Int returns a JSON number holding the integer i.
func Int(i int64) Value {
	return Value{kind: NumberKind, number: json.Number(strconv.FormatInt(i, 10))}
}

// Float returns a JSON number holding f.
func Float(f float64) Value {
	return Value{kind: NumberKind, number: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Number returns a JSON number from its textual form. The text is
// validated.
func Number(n json.Number) (Value, error) {
	if !isJSONNumber(n) {
		return Value{}, errors.NotValidf("number %q", string(n))
	}
	return Value{kind: NumberKind, number: n}, nil
}

func isJSONNumber(n json.Number) bool {
	if n == "" || !json.Valid([]byte(n)) {
		return false
	}
	// The only valid JSON documents that start like this are numbers.
	return n[0] == '-' || (n[0] >= '0' && n[0] <= '9')
}

// String returns a JSON string.
func String(s string) Value {
	return Value{kind: StringKind, str: s}
}

// Array returns a JSON array holding a copy of values.
func Array(values ...Value) Value {
	return Value{kind: ArrayKind, array: append([]Value{}, values...)}
}

// Object returns a JSON object holding a copy of members. A later
// member replaces an earlier member with the same key.
func Object(members ...Member) Value {
	var set memberSet
	for _, m := range members {
		set.add(m)
	}
	return set.value()
}

// memberSet collects object members in order, replacing the value of
// a repeated key in place.
type memberSet struct {
	members []Member
	index   map[string]int
}

func (s *memberSet) add(m Member) {
	if i, ok := s.index[m.Key]; ok {
		s.members[i].Value = m.Value
		return
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	s.index[m.Key] = len(s.members)
	s.members = append(s.members, m)
}

func (s *memberSet) value() Value {
	members := s.members
	if members == nil {
		members = []Member{}
	}
	return Value{kind: ObjectKind, object: members}
}

// ValueOf converts a Go value into a Value. Values are converted
// using their JSON encoding, so struct tags and json.Marshaler
// implementations are honoured.
func ValueOf(in any) (Value, error) {
	switch v := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case *Value:
		if v == nil {
			return Null(), nil
		}
		return *v, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case int:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Value{}, errors.NotValidf("number %v", v)
		}
		return Float(v), nil
	case json.Number:
		return Number(v)
	}
	data, err := json.Marshal(in)
	if err != nil {
		return Value{}, errors.Annotatef(err, "converting %T", in)
	}
	return ParseValue(data)
}

// ValuesOf converts a Go slice or array into a slice of Values.
func ValuesOf(in any) ([]Value, error) {
	if values, ok := in.([]Value); ok {
		return append([]Value{}, values...), nil
	}
	rv := reflect.ValueOf(in)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, errors.NotValidf("params of type %T", in)
	}
	values := make([]Value, rv.Len())
	for i := range values {
		v, err := ValueOf(rv.Index(i).Interface())
		if err != nil {
			return nil, errors.Annotatef(err, "param %d", i)
		}
		values[i] = v
	}
	return values, nil
}

// ParseValue decodes a single JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, errors.Trace(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: NumberKind, number: t}, nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			v := Value{kind: ArrayKind, array: []Value{}}
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				v.array = append(v.array, elem)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return v, nil
		case '{':
			var set memberSet
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, errors.Errorf("unexpected object key %v", keyTok)
				}
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				set.add(Member{Key: key, Value: elem})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return set.value(), nil
		}
	}
	return Value{}, errors.Errorf("unexpected token %v", tok)
}

// Kind returns the type of JSON value held.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool {
	return v.kind == NullKind
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, error) {
	if v.kind != BoolKind {
		return false, v.kindError(BoolKind)
	}
	return v.boolean, nil
}

// AsFloat64 returns the number held by v as a float64.
func (v Value) AsFloat64() (float64, error) {
	if v.kind != NumberKind {
		return 0, v.kindError(NumberKind)
	}
	return v.number.Float64()
}

// AsInt64 returns the number held by v as an int64. It fails if the
// number has a fractional part.
func (v Value) AsInt64() (int64, error) {
	if v.kind != NumberKind {
		return 0, v.kindError(NumberKind)
	}
	return v.number.Int64()
}

// AsNumber returns the textual form of the number held by v.
func (v Value) AsNumber() (json.Number, error) {
	if v.kind != NumberKind {
		return "", v.kindError(NumberKind)
	}
	return v.number, nil
}

// AsString returns the string held by v.
func (v Value) AsString() (string, error) {
	if v.kind != StringKind {
		return "", v.kindError(StringKind)
	}
	return v.str, nil
}

// AsArray returns a copy of the elements of the array held by v.
func (v Value) AsArray() ([]Value, error) {
	if v.kind != ArrayKind {
		return nil, v.kindError(ArrayKind)
	}
	return append([]Value{}, v.array...), nil
}

// AsObject returns a copy of the members of the object held by v,
// in order.
func (v Value) AsObject() ([]Member, error) {
	if v.kind != ObjectKind {
		return nil, v.kindError(ObjectKind)
	}
	return append([]Member{}, v.object...), nil
}

// Get returns the member of an object value with the given key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.object {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of elements of an array or members of an
// object, and zero for every other kind.
func (v Value) Len() int {
	switch v.kind {
	case ArrayKind:
		return len(v.array)
	case ObjectKind:
		return len(v.object)
	}
	return 0
}

func (v Value) kindError(want Kind) error {
	return errors.Errorf("value is %s, not %s", v.kind, want)
}

// Interface converts v to plain Go values: nil, bool, json.Number,
// string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case BoolKind:
		return v.boolean
	case NumberKind:
		return v.number
	case StringKind:
		return v.str
	case ArrayKind:
		out := make([]any, len(v.array))
		for i, elem := range v.array {
			out[i] = elem.Interface()
		}
		return out
	case ObjectKind:
		out := make(map[string]any, len(v.object))
		for _, m := range v.object {
			out[m.Key] = m.Value.Interface()
		}
		return out
	}
	return nil
}

// Decode unmarshals v into the Go value pointed to by out.
func (v Value) Decode(out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(json.Unmarshal(data, out))
}

// Equal reports whether v and other hold the same JSON value. Numbers
// are compared numerically and object member order is ignored.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case NullKind:
		return true
	case BoolKind:
		return v.boolean == other.boolean
	case NumberKind:
		if v.number == other.number {
			return true
		}
		a, errA := v.number.Float64()
		b, errB := other.number.Float64()
		return errA == nil && errB == nil && a == b
	case StringKind:
		return v.str == other.str
	case ArrayKind:
		if len(v.array) != len(other.array) {
			return false
		}
		for i := range v.array {
			if !v.array[i].Equal(other.array[i]) {
				return false
			}
		}
		return true
	case ObjectKind:
		if len(v.object) != len(other.object) {
			return false
		}
		others := make(map[string]Value, len(other.object))
		for _, m := range other.object {
			others[m.Key] = m.Value
		}
		for _, m := range v.object {
			o, ok := others[m.Key]
			if !ok || !m.Value.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case NullKind:
		buf.WriteString("null")
	case BoolKind:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case NumberKind:
		buf.WriteString(string(v.number))
	case StringKind:
		data, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(data)
	case ArrayKind:
		buf.WriteByte('[')
		for i, elem := range v.array {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := elem.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ObjectKind:
		buf.WriteByte('{')
		for i, m := range v.object {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.Errorf("cannot encode %s", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return errors.Trace(err)
	}
	*v = parsed
	return nil
}

// String returns the compact JSON text of v.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "<invalid " + v.kind.String() + ">"
	}
	return string(data)
}
