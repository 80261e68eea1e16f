// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc

import (
	"fmt"
	"strings"
)

const (
	defaultClipLength = 60

	// clipSlack is roughly the length of the "... (N more)" suffix;
	// strings shorter than the limit plus the slack are left alone.
	clipSlack = 13
)

// Clip shortens s to about length runes, noting how much was left
// out, e.g. "abcdef... (42 more)". Strings that would not get shorter
// are returned unchanged.
func Clip(s string, length int) string {
	if length < 0 {
		length = 0
	}
	runes := []rune(s)
	if len(runes) < length+clipSlack {
		return s
	}
	return fmt.Sprintf("%s... (%d more)", string(runes[:length]), len(runes)-length)
}

// Pretty renders the request as indented JSON for logging. Each
// component is clipped to maxLength, so the output is not
// necessarily valid JSON.
func (r *Request) Pretty(maxLength int) string {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  %q: %q,\n", "jsonrpc", Version)
	fmt.Fprintf(&b, "  %q: %q,\n", "method", r.method)
	if len(r.params) > 0 {
		parts := make([]string, len(r.params))
		for i, p := range r.params {
			parts[i] = p.String()
		}
		fmt.Fprintf(&b, "  %q: [%s],\n", "params", Clip(strings.Join(parts, ","), maxLength))
	}
	fmt.Fprintf(&b, "  %q: %s\n", "id", r.id)
	b.WriteString("}")
	return b.String()
}

// String implements fmt.Stringer.
func (r *Request) String() string {
	return r.Pretty(defaultClipLength)
}

// Pretty renders the response as indented JSON for logging. Each
// component is clipped to maxLength, so the output is not
// necessarily valid JSON.
func (r *Response) Pretty(maxLength int) string {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  %q: %q,\n", "jsonrpc", Version)
	if r.err != nil {
		fmt.Fprintf(&b, "  %q: {\n", "error")
		fmt.Fprintf(&b, "    %q: %d,\n", "code", r.err.code)
		fmt.Fprintf(&b, "    %q: %q", "message", r.err.message)
		if r.err.data != nil {
			fmt.Fprintf(&b, ",\n    %q: %s", "data", Clip(r.err.data.String(), maxLength))
		}
		b.WriteString("\n  },\n")
	} else {
		result := Null()
		if r.result != nil {
			result = *r.result
		}
		fmt.Fprintf(&b, "  %q: %s,\n", "result", Clip(result.String(), maxLength))
	}
	fmt.Fprintf(&b, "  %q: %s\n", "id", r.id)
	b.WriteString("}")
	return b.String()
}

// String implements fmt.Stringer.
func (r *Response) String() string {
	return r.Pretty(defaultClipLength)
}
