// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"bytes"
	"io"
	"strings"

	gc "gopkg.in/check.v1"

	"github.com/juju/logiq/cmd"
)

// Context returns a command context rooted in a fresh temporary
// directory, with buffers for stdout and stderr.
func Context(c *gc.C) *cmd.Context {
	return &cmd.Context{
		Dir:    c.MkDir(),
		Stdin:  strings.NewReader(""),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}
}

// Stdout returns what the command wrote to stdout.
func Stdout(ctx *cmd.Context) string {
	return bufferString(ctx.Stdout)
}

// Stderr returns what the command wrote to stderr.
func Stderr(ctx *cmd.Context) string {
	return bufferString(ctx.Stderr)
}

func bufferString(w io.Writer) string {
	return w.(*bytes.Buffer).String()
}

// InitCommand parses args on com without running it.
func InitCommand(com cmd.Command, args []string) error {
	return cmd.Parse(com, args, io.Discard)
}

// RunCommand runs com with args in a fresh context and returns the
// context together with the exit code.
func RunCommand(c *gc.C, com cmd.Command, args ...string) (*cmd.Context, int) {
	ctx := Context(c)
	code := cmd.Main(com, ctx, args)
	c.Logf("stdout: %q", Stdout(ctx))
	c.Logf("stderr: %q", Stderr(ctx))
	return ctx, code
}
