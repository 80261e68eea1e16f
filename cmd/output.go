// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"gopkg.in/yaml.v3"
)

// Formatter converts an arbitrary object into a []byte.
type Formatter func(value any) ([]byte, error)

// FormatYaml marshals value to a yaml-formatted []byte, unless value is nil.
func FormatYaml(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return []byte(strings.TrimSuffix(string(data), "\n")), nil
}

// FormatJson marshals value to a json-formatted []byte.
func FormatJson(value any) ([]byte, error) {
	return json.Marshal(value)
}

// DefaultFormatters are used by the logiq commands.
var DefaultFormatters = map[string]Formatter{
	"yaml": FormatYaml,
	"json": FormatJson,
}

// formatterValue implements gnuflag.Value for the --format flag.
type formatterValue struct {
	name       string
	formatters map[string]Formatter
}

// newFormatterValue returns a new formatterValue. The initial Formatter name
// must be present in formatters.
func newFormatterValue(initial string, formatters map[string]Formatter) *formatterValue {
	v := &formatterValue{formatters: formatters}
	if err := v.Set(initial); err != nil {
		panic(err)
	}
	return v
}

// Set stores the chosen formatter name in v.name.
func (v *formatterValue) Set(value string) error {
	if v.formatters[value] == nil {
		return errors.NotValidf("format %q", value)
	}
	v.name = value
	return nil
}

// String returns the chosen formatter name.
func (v *formatterValue) String() string {
	return v.name
}

func (v *formatterValue) doc() string {
	choices := make([]string, 0, len(v.formatters))
	for name := range v.formatters {
		choices = append(choices, name)
	}
	sort.Strings(choices)
	return "Specify output format (" + strings.Join(choices, "|") + ")"
}

// Output is responsible for interpreting output-related command line flags
// and writing a value to a file or to stdout as directed.
type Output struct {
	formatter *formatterValue
	outPath   string
}

// AddFlags injects appropriate command line flags into f.
func (c *Output) AddFlags(f *gnuflag.FlagSet, name string, formatters map[string]Formatter) {
	c.formatter = newFormatterValue(name, formatters)
	f.Var(c.formatter, "format", c.formatter.doc())
	f.StringVar(&c.outPath, "o", "", "Specify an output file")
	f.StringVar(&c.outPath, "output", "", "")
}

// Name returns the name of the chosen formatter.
func (c *Output) Name() string {
	return c.formatter.name
}

// Write formats and outputs value as directed by the --format and --output
// command line flags.
func (c *Output) Write(ctx *Context, value any) error {
	data, err := c.formatter.formatters[c.formatter.name](value)
	if err != nil {
		return errors.Annotatef(err, "formatting output as %s", c.formatter.name)
	}
	if data == nil {
		return nil
	}
	var target io.Writer = ctx.Stdout
	if c.outPath != "" {
		f, err := os.Create(ctx.AbsPath(c.outPath))
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		target = f
	}
	if _, err := target.Write(append(data, '\n')); err != nil {
		return errors.Trace(err)
	}
	return nil
}
