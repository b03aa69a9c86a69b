// Package diag collects the diagnostics produced while compiling and
// processing sources.
package diag

import (
	"errors"
	"fmt"
	"go/token"
	"sync"

	"github.com/jhump/aptest"
)

// ErrNilDiagnostic is returned when a nil diagnostic is reported.
var ErrNilDiagnostic = fmt.Errorf("%w: nil diagnostic", aptest.ErrInvalidArgument)

// Severity is the kind of a diagnostic.
type Severity int

const (
	Error Severity = iota
	Warning
	MandatoryWarning
	Note
	Other
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case MandatoryWarning:
		return "mandatory warning"
	case Note:
		return "note"
	case Other:
		return "other"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Sources of diagnostics.
const (
	SourceParser      = "parser"
	SourceTypes       = "types"
	SourceAnnotations = "annotations"
	SourceProcessor   = "processor"
	SourceCompiler    = "compiler"
)

// Diagnostic is a single message reported during compilation. Pos is the zero
// position when the message is not about any particular place in the sources.
type Diagnostic struct {
	Severity Severity
	Pos      token.Position
	Message  string
	// Code is an optional machine-readable identifier for the message.
	Code   string
	Source string
}

func (d *Diagnostic) String() string {
	if d.Pos.IsValid() {
		return fmt.Sprintf("%v: %v: %s", d.Pos, d.Severity, d.Message)
	}
	return fmt.Sprintf("%v: %s", d.Severity, d.Message)
}

// Listener receives diagnostics as they are reported.
type Listener interface {
	Report(d *Diagnostic) error
}

// Collector is a Listener that records every diagnostic in the order it was
// reported. It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	diags []*Diagnostic
}

var _ Listener = (*Collector)(nil)

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Report(d *Diagnostic) error {
	if d == nil {
		return ErrNilDiagnostic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
	return nil
}

// Diagnostics returns a copy of the diagnostics reported so far.
func (c *Collector) Diagnostics() []*Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Diagnostic(nil), c.diags...)
}

// HasErrors reports whether any diagnostic with Error severity was reported.
func (c *Collector) HasErrors() bool {
	return c.Count(Error) > 0
}

// Count returns the number of diagnostics with the given severity.
func (c *Collector) Count(sev Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, d := range c.diags {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Err returns an error that describes all error diagnostics, or nil if there
// are none.
func (c *Collector) Err() error {
	var errs []error
	for _, d := range c.Diagnostics() {
		if d.Severity == Error {
			errs = append(errs, errors.New(d.String()))
		}
	}
	return errors.Join(errs...)
}
