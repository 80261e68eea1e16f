// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/juju/errors"
)

type idKind int

const (
	nullID idKind = iota
	numberID
	stringID
)

// ID is a request identifier used to correlate a response with the
// request that caused it. It is either an integer, a string, or null;
// null is only ever seen on responses to requests the remote end could
// not identify. IDs are comparable and may be used as map keys.
type ID struct {
	kind idKind
	num  int64
	str  string
}

// NumberID returns an integer identifier.
func NumberID(n int64) ID {
	return ID{kind: numberID, num: n}
}

// StringID returns a string identifier.
func StringID(s string) ID {
	return ID{kind: stringID, str: s}
}

// IsNull reports whether the id is the JSON null id.
func (id ID) IsNull() bool {
	return id.kind == nullID
}

// Int64 returns the integer value of a numeric id.
func (id ID) Int64() (int64, bool) {
	return id.num, id.kind == numberID
}

func (id ID) String() string {
	switch id.kind {
	case numberID:
		return strconv.FormatInt(id.num, 10)
	case stringID:
		return strconv.Quote(id.str)
	}
	return "null"
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case numberID:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case stringID:
		return json.Marshal(id.str)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Numbers written with a
// fraction or an exponent are accepted when their value is an integer
// in the int64 range, so 1.0 and 1e2 read as 1 and 100. Other numbers
// are not valid ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ID{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.Trace(err)
		}
		*id = StringID(s)
	default:
		n, ok := parseIntegral(string(data))
		if !ok {
			return errors.NotValidf("id %s", data)
		}
		*id = NumberID(n)
	}
	return nil
}

// parseIntegral parses a JSON number whose value is an integer that
// fits in an int64. The decimal digits are shifted by the exponent
// rather than going through a float, so the result is exact.
func parseIntegral(text string) (int64, bool) {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	mantissa, exp := text, 0
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		e, err := strconv.Atoi(strings.TrimPrefix(text[i+1:], "+"))
		if err != nil {
			return 0, false
		}
		mantissa, exp = text[:i], e
	}
	sign := ""
	if strings.HasPrefix(mantissa, "-") {
		sign, mantissa = "-", mantissa[1:]
	}
	whole, frac, _ := strings.Cut(mantissa, ".")
	if whole == "" || !isDigits(whole) || !isDigits(frac) {
		return 0, false
	}
	if len(whole) > 1 && whole[0] == '0' {
		return 0, false
	}
	digits := strings.TrimLeft(whole+frac, "0")
	exp -= len(frac)
	for len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		exp++
	}
	switch {
	case digits == "":
		return 0, true
	case exp < 0:
		return 0, false
	case len(digits)+exp > 19:
		return 0, false
	}
	n, err := strconv.ParseInt(sign+digits+strings.Repeat("0", exp), 10, 64)
	return n, err == nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IDGenerator hands out strictly increasing numeric ids, starting at
// 1. It is safe for concurrent use. The zero value is ready to use.
type IDGenerator struct {
	last atomic.Int64
}

// Next returns the next id.
func (g *IDGenerator) Next() ID {
	return NumberID(g.last.Add(1))
}

var processIDs IDGenerator

// NextID returns the next id from the process-wide generator. Ids
// are never reused within the lifetime of the process.
func NextID() ID {
	return processIDs.Next()
}
