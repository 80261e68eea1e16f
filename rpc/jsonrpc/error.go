// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
)

// Error is the error object carried by a JSON-RPC response. It is
// protocol data rather than a failure of this package, but it
// implements error so that callers waiting on a single call can
// return it directly.
type Error struct {
	code    int
	message string
	data    *Value
}

// NewError returns an error with the given code and message. The
// data may be nil when there is no additional information.
func NewError(code int, message string, data *Value) (*Error, error) {
	if message == "" {
		return nil, errors.NotValidf("empty error message")
	}
	e := &Error{code: code, message: message}
	if data != nil {
		d := *data
		e.data = &d
	}
	return e, nil
}

// ErrorFromKind returns an error with the catalogued code and message
// of kind, carrying the supplied data.
func ErrorFromKind(kind ErrorKind, data *Value) (*Error, error) {
	if !kind.Valid() {
		return nil, errors.NotValidf("error kind %d", int(kind))
	}
	return NewError(kind.Code(), kind.Message(), data)
}

// Code returns the error code.
func (e *Error) Code() int {
	return e.code
}

// Message returns the short description of the error.
func (e *Error) Message() string {
	return e.message
}

// Data returns the additional error information, if any.
func (e *Error) Data() (Value, bool) {
	if e.data == nil {
		return Value{}, false
	}
	return *e.data, true
}

// Kind returns the catalogued kind matching the error code.
func (e *Error) Kind() (ErrorKind, bool) {
	return KindForCode(e.code)
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.message, e.code)
}

// IsKind reports whether err is, or wraps, an *Error whose code
// matches kind.
func IsKind(err error, kind ErrorKind) bool {
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	return kind.Valid() && rpcErr.code == kind.Code()
}

type wireError struct {
	Code    *int            `json:"code"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{Code: &e.code, Message: &e.message}
	if e.data != nil {
		data, err := e.data.MarshalJSON()
		if err != nil {
			return nil, errors.Trace(err)
		}
		w.Data = data
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Both code and message
// must be present.
func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Trace(err)
	}
	if w.Code == nil {
		return errors.NotValidf("error object without code")
	}
	if w.Message == nil || *w.Message == "" {
		return errors.NotValidf("error object without message")
	}
	parsed := Error{code: *w.Code, message: *w.Message}
	if len(w.Data) > 0 {
		v, err := ParseValue(w.Data)
		if err != nil {
			return errors.Annotate(err, "error data")
		}
		parsed.data = &v
	}
	*e = parsed
	return nil
}
