// Package config provides configuration management for pipemgr.
package config

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// Config holds the output-related settings shared by every component that
// writes to the console or the pipeline log.
type Config struct {
	debug    bool
	noColors bool
}

// NewConfig creates a new Config with the given settings.
// If noColors is nil, it defaults based on whether stdout is a terminal.
func NewConfig(debug bool, noColors *bool) *Config {
	cfg := &Config{
		debug: debug,
	}

	if noColors != nil {
		cfg.noColors = *noColors
	} else {
		cfg.noColors = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
	}

	return cfg
}

// Debug returns whether debug mode is enabled.
func (c *Config) Debug() bool {
	return c.debug
}

// SetDebug sets the debug mode.
func (c *Config) SetDebug(value bool) {
	c.debug = value
}

// NoColors returns whether colored output is disabled.
func (c *Config) NoColors() bool {
	return c.noColors
}

// SetNoColors sets whether colored output is disabled.
func (c *Config) SetNoColors(value bool) {
	c.noColors = value
}

// Interactive reports whether stdout is attached to a terminal.
func Interactive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Resources carries the compute hints a pipeline forwards to the commands it
// runs. Mem is in megabytes.
type Resources struct {
	Cores int
	Mem   int
}

// DefaultResources returns the resource hints used when the caller supplies
// none: a single core and 1000 megabytes.
func DefaultResources() Resources {
	return Resources{Cores: 1, Mem: 1000}
}

// MemLimit renders the memory hint in the "<N>m" form cluster schedulers and
// most tools accept.
func (r Resources) MemLimit() string {
	return fmt.Sprintf("%dm", r.Mem)
}

// JavaMem renders a heap hint at 95% of the memory limit. The JVM's -Xmx only
// bounds heap, not total use; the margin keeps total memory under the limit.
func (r Resources) JavaMem() string {
	return fmt.Sprintf("%dm", r.Mem*95/100)
}

// Core-splitting helpers for pipelines that divide work between concurrent
// commands. The "a" variant absorbs the remainder so the two halves cover
// every core.

func (r Resources) Cores1of2a() int { return r.Cores/2 + r.Cores%2 }

func (r Resources) Cores1of2() int { return r.Cores / 2 }

func (r Resources) Cores1of4() int { return r.Cores / 4 }

func (r Resources) Cores3of4() int { return r.Cores - r.Cores/4 }

func (r Resources) Cores1of8() int { return r.Cores / 8 }

func (r Resources) Cores7of8() int { return r.Cores - r.Cores/8 }
