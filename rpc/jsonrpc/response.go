// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import (
	"encoding/json"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// ErrMalformedResponse is the cause of every failure to parse an
// inbound response.
const ErrMalformedResponse = errors.ConstError("malformed response")

// MalformedResponseError describes an inbound payload that could not
// be parsed as a response.
type MalformedResponseError struct {
	// Payload holds the offending text, clipped for logging.
	Payload string
	// Reason says what was wrong with it.
	Reason error
}

func (e *MalformedResponseError) Error() string {
	return "malformed response " + e.Payload + ": " + e.Reason.Error()
}

// Unwrap returns the underlying reason.
func (e *MalformedResponseError) Unwrap() error {
	return e.Reason
}

// Is makes every MalformedResponseError match ErrMalformedResponse.
func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

func malformed(text string, reason error) error {
	return &MalformedResponseError{
		Payload: Clip(text, defaultClipLength),
		Reason:  reason,
	}
}

// Response is an inbound reply to a request.
type Response struct {
	result     *Value
	err        *Error
	id         ID
	receivedAt time.Time
}

// NewResultResponse returns a successful response to the request
// with the given id.
func NewResultResponse(id ID, result Value) *Response {
	return &Response{id: id, result: &result}
}

// NewErrorResponse returns a failed response to the request with the
// given id.
func NewErrorResponse(id ID, rpcErr *Error) *Response {
	return &Response{id: id, err: rpcErr}
}

// ParseResponse decodes a response, stamping it with the wall clock
// time.
func ParseResponse(text string) (*Response, error) {
	return ParseResponseWithClock(text, clock.WallClock)
}

// ParseResponseWithClock decodes a response, stamping it with the
// current time of clk. The payload must be a JSON object with an id
// member. A payload holding both an error and a non-null result is a
// protocol violation and is rejected.
func ParseResponseWithClock(text string, clk clock.Clock) (*Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, malformed(text, err)
	}
	if raw == nil {
		return nil, malformed(text, errors.New("not an object"))
	}
	if err := checkVersion(raw); err != nil {
		return nil, malformed(text, err)
	}
	idData, ok := raw["id"]
	if !ok {
		return nil, malformed(text, errors.New("missing id"))
	}
	resp := &Response{receivedAt: clk.Now()}
	if err := json.Unmarshal(idData, &resp.id); err != nil {
		return nil, malformed(text, err)
	}
	if data, ok := raw["error"]; ok && string(data) != "null" {
		var rpcErr Error
		if err := json.Unmarshal(data, &rpcErr); err != nil {
			return nil, malformed(text, err)
		}
		resp.err = &rpcErr
	}
	if data, ok := raw["result"]; ok {
		v, err := ParseValue(data)
		if err != nil {
			return nil, malformed(text, err)
		}
		if resp.err != nil && !v.IsNull() {
			return nil, malformed(text, errors.New("both result and error present"))
		}
		if resp.err == nil {
			resp.result = &v
		}
	}
	return resp, nil
}

// Result returns the result of the call. It is absent when the call
// failed.
func (r *Response) Result() (Value, bool) {
	if r.result == nil {
		return Value{}, false
	}
	return *r.result, true
}

// RPCError returns the error reported by the remote end, or nil.
func (r *Response) RPCError() *Error {
	return r.err
}

// ID returns the id of the request this response answers.
func (r *Response) ID() ID {
	return r.id
}

// ReceivedAt returns the time the response was parsed.
func (r *Response) ReceivedAt() time.Time {
	return r.receivedAt
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// MarshalJSON implements json.Marshaler. Exactly one of result and
// error is written; a response with neither carries a null result.
func (r *Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{JSONRPC: Version, Error: r.err, ID: r.id}
	if r.err == nil {
		w.Result = json.RawMessage("null")
		if r.result != nil {
			data, err := r.result.MarshalJSON()
			if err != nil {
				return nil, errors.Trace(err)
			}
			w.Result = data
		}
	}
	return json.Marshal(w)
}
