// Package buildinfo carries build-time metadata separate from user configuration.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata the build did not inject.
const UnknownValue = "unknown"

// BuildInfo provides read access to build-time metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
	Commit() string
}

// Context contains build-time metadata that is not user-configurable.
// It is created once in main from linker flags.
type Context struct {
	version   string
	buildDate string
	commit    string
}

// NewContext returns a Context for the given metadata. Empty values are
// reported as UnknownValue.
func NewContext(version, buildDate, commit string) *Context {
	return &Context{version: version, buildDate: buildDate, commit: commit}
}

// Version returns the release version.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns when the binary was built.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// Commit returns the source revision.
func (c *Context) Commit() string {
	if c == nil || c.commit == "" {
		return UnknownValue
	}
	return c.commit
}

// String is the one-line summary printed by the version command.
func (c *Context) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)",
		c.Version(), c.Commit(), c.BuildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
