package compile

import (
	"strings"

	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/vfs"
)

// Result is the outcome of a compilation that ran to completion.
type Result struct {
	success     bool
	diagnostics []*diag.Diagnostic
	generated   []*vfs.Entry
	taskID      string
}

// Success reports whether the compilation reported no errors.
func (r *Result) Success() bool {
	return r.success
}

// Diagnostics returns every diagnostic reported, in order.
func (r *Result) Diagnostics() []*diag.Diagnostic {
	return append([]*diag.Diagnostic(nil), r.diagnostics...)
}

// Errors returns the diagnostics with Error severity.
func (r *Result) Errors() []*diag.Diagnostic {
	var errs []*diag.Diagnostic
	for _, d := range r.diagnostics {
		if d.Severity == diag.Error {
			errs = append(errs, d)
		}
	}
	return errs
}

// GeneratedFiles returns the files written during compilation, both sources
// created by the processor and export data, ordered by URI.
func (r *Result) GeneratedFiles() []*vfs.Entry {
	return append([]*vfs.Entry(nil), r.generated...)
}

// GeneratedFile returns the generated file with the given URI, or nil.
func (r *Result) GeneratedFile(uri string) *vfs.Entry {
	for _, e := range r.generated {
		if e.URI() == uri {
			return e
		}
	}
	return nil
}

// TaskID returns the unique ID of the compilation.
func (r *Result) TaskID() string {
	return r.taskID
}

func (r *Result) String() string {
	var sb strings.Builder
	if r.success {
		sb.WriteString("compilation succeeded")
	} else {
		sb.WriteString("compilation failed")
	}
	for _, d := range r.diagnostics {
		sb.WriteString("\n  ")
		sb.WriteString(d.String())
	}
	return sb.String()
}
