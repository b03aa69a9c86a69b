package diag

import (
	"errors"
	"go/token"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhump/aptest"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.HasErrors())
	assert.Empty(t, c.Diagnostics())
	require.NoError(t, c.Err())

	err := c.Report(nil)
	assert.ErrorIs(t, err, ErrNilDiagnostic)
	assert.ErrorIs(t, err, aptest.ErrInvalidArgument)

	pos := token.Position{Filename: "a.go", Line: 3, Column: 2}
	reported := []*Diagnostic{
		{Severity: Warning, Pos: pos, Message: "careful", Source: SourceProcessor},
		{Severity: Error, Pos: pos, Message: "undefined: x", Source: SourceTypes},
		{Severity: Note, Message: "fyi", Source: SourceProcessor},
		{Severity: Error, Message: "too many rounds", Source: SourceCompiler},
	}
	for _, d := range reported {
		require.NoError(t, c.Report(d))
	}

	snapshot := c.Diagnostics()
	if diff := cmp.Diff(reported, snapshot); diff != "" {
		t.Errorf("unexpected diagnostics (-want +got):\n%s", diff)
	}
	require.NoError(t, c.Report(&Diagnostic{Severity: Other, Message: "late"}))
	assert.Len(t, snapshot, 4)
	assert.Len(t, c.Diagnostics(), 5)

	assert.True(t, c.HasErrors())
	testCases := []struct {
		sev  Severity
		want int
	}{
		{Error, 2},
		{Warning, 1},
		{MandatoryWarning, 0},
		{Note, 1},
		{Other, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.sev.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, c.Count(tc.sev))
		})
	}

	err = c.Err()
	require.Error(t, err)
	assert.Equal(t, "a.go:3:2: error: undefined: x\nerror: too many rounds", err.Error())
	assert.False(t, errors.Is(err, aptest.ErrInvalidArgument))
}

func TestSeverity_String(t *testing.T) {
	assert.Equal(t, "mandatory warning", MandatoryWarning.String())
	assert.Equal(t, "Severity(9)", Severity(9).String())
}
