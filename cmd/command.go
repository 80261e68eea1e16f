// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cmd provides the small command framework used by the logiq
// command line tools.
package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("logiq.cmd")

// ErrSilent can be returned from Run to signal that Main should exit
// with an error code without printing the error.
const ErrSilent = errors.ConstError("cmd: error out silently")

// Context holds the environment a command runs in.
type Context struct {
	// Dir is the directory relative paths are resolved against.
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// AbsPath returns an absolute representation of path, resolved
// against the context directory.
func (ctx *Context) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ctx.Dir, path)
}

// Infof writes a line to the context's stderr.
func (ctx *Context) Infof(format string, args ...any) {
	fmt.Fprintf(ctx.Stderr, format+"\n", args...)
}

// Info holds everything necessary to describe a Command's intent and usage.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string
}

// Usage combines Name and Args to describe the Command's intended usage.
func (i *Info) Usage() string {
	if i.Args == "" {
		return i.Name
	}
	return fmt.Sprintf("%s %s", i.Name, i.Args)
}

// Command is implemented by types that interpret command-line arguments.
type Command interface {
	// Info returns information about the command.
	Info() *Info

	// SetFlags adds the command's options to f.
	SetFlags(f *gnuflag.FlagSet)

	// Init is called with the positional arguments once the flags
	// have been parsed.
	Init(args []string) error

	// Run executes the command.
	Run(ctx *Context) error
}

// NewFlagSet returns a FlagSet initialized for use with c.
func NewFlagSet(c Command, output io.Writer) *gnuflag.FlagSet {
	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(output)
	f.Usage = func() {}
	c.SetFlags(f)
	return f
}

// PrintUsage writes usage information for c to w.
func PrintUsage(c Command, w io.Writer) {
	i := c.Info()
	fmt.Fprintf(w, "Usage: %s\n", i.Usage())
	if i.Purpose != "" {
		fmt.Fprintf(w, "\nSummary:\n%s\n", i.Purpose)
	}
	fmt.Fprintf(w, "\nOptions:\n")
	NewFlagSet(c, w).PrintDefaults()
	if i.Doc != "" {
		fmt.Fprintf(w, "\nDetails:\n%s\n", strings.TrimSpace(i.Doc))
	}
}

// Parse parses args on c. This must be called before c is Run.
func Parse(c Command, args []string, output io.Writer) error {
	f := NewFlagSet(c, output)
	if err := f.Parse(true, args); err != nil {
		return errors.Trace(err)
	}
	return c.Init(f.Args())
}

// CheckEmpty is a utility function that returns an error if args is not empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return errors.Errorf("unrecognized args: %q", args)
	}
	return nil
}

// Main parses args, which exclude the command name, and runs c. It
// returns the exit code: 0 on success, 2 for bad usage, 1 otherwise.
func Main(c Command, ctx *Context, args []string) int {
	if err := Parse(c, args, ctx.Stderr); err != nil {
		if errors.Is(err, gnuflag.ErrHelp) {
			PrintUsage(c, ctx.Stdout)
			return 0
		}
		fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		return 2
	}
	if err := c.Run(ctx); err != nil {
		logger.Debugf("%s command failed: %s", c.Info().Name, errors.ErrorStack(err))
		if !errors.Is(err, ErrSilent) {
			fmt.Fprintf(ctx.Stderr, "ERROR %v\n", err)
		}
		return 1
	}
	return 0
}
