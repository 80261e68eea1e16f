// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import "fmt"

// ErrorKind names a well known error: either one of the codes
// reserved by JSON-RPC 2.0 or one defined by the LogIQ appliance.
type ErrorKind int

const (
	ParseError ErrorKind = iota + 1
	InvalidRequest
	MethodNotFound
	InvalidParams
	InternalError
	DatabaseError
	InvalidLogin
	InvalidFormat
	IncompatibleFormat
	UnknownInstance
	IllegalAccess
)

type catalogEntry struct {
	name    string
	code    int
	message string
}

var catalog = map[ErrorKind]catalogEntry{
	ParseError:         {"ParseError", -32700, "Parse error"},
	InvalidRequest:     {"InvalidRequest", -32600, "Invalid request"},
	MethodNotFound:     {"MethodNotFound", -32601, "Method not found"},
	InvalidParams:      {"InvalidParams", -32602, "Invalid params"},
	InternalError:      {"InternalError", -32603, "Internal error"},
	DatabaseError:      {"DatabaseError", -32001, "LogIQ - Database error"},
	InvalidLogin:       {"InvalidLogin", -32002, "LogIQ - Invalid login"},
	InvalidFormat:      {"InvalidFormat", -32003, "LogIQ - Invalid format"},
	IncompatibleFormat: {"IncompatibleFormat", -32004, "LogIQ - Incompatible format"},
	UnknownInstance:    {"UnknownInstance", -32005, "LogIQ - Unknown instance"},
	IllegalAccess:      {"IllegalAccess", -32006, "LogIQ - Illegal access"},
}

var kindsByCode = func() map[int]ErrorKind {
	m := make(map[int]ErrorKind, len(catalog))
	for kind, entry := range catalog {
		m[entry.code] = kind
	}
	return m
}()

// Kinds returns every known error kind, in declaration order.
func Kinds() []ErrorKind {
	kinds := make([]ErrorKind, 0, len(catalog))
	for kind := ParseError; kind <= IllegalAccess; kind++ {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Valid reports whether k is a catalogued kind.
func (k ErrorKind) Valid() bool {
	_, ok := catalog[k]
	return ok
}

// Code returns the wire code of the kind, or zero for an unknown kind.
func (k ErrorKind) Code() int {
	return catalog[k].code
}

// Message returns the canonical message of the kind.
func (k ErrorKind) Message() string {
	return catalog[k].message
}

func (k ErrorKind) String() string {
	if entry, ok := catalog[k]; ok {
		return entry.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KindForCode returns the kind with the given wire code.
func KindForCode(code int) (ErrorKind, bool) {
	kind, ok := kindsByCode[code]
	return kind, ok
}
