// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package version holds the version of the logiq client.
package version

import (
	semversion "github.com/juju/version/v2"
)

// The presence and format of this constant is very important.
// The text is parsed by release tooling.
const version = "0.3.0"

// Current gives the current version of the client.
var Current = semversion.MustParse(version)

// UserAgent is sent with every websocket handshake so the appliance
// can tell clients apart.
func UserAgent() string {
	return "logiq/" + Current.String()
}
