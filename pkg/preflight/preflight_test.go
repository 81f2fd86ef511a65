package preflight

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup map[string]string

func (f fakeLookup) get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func allTools(string) (string, error) { return "/usr/bin/tool", nil }

func noTools(string) (string, error) { return "", errors.New("missing") }

func find(t *testing.T, r Report, name string) Result {
	t.Helper()
	for _, res := range r.Results {
		if res.Name == name {
			return res
		}
	}
	require.FailNow(t, "probe not found", name)
	return Result{}
}

func TestInterpretPermissionFlag(t *testing.T) {
	cases := map[string]Status{
		"granted":     StatusGranted,
		"denied":      StatusDenied,
		"prompt":      StatusPromptRequired,
		"unsupported": StatusUnavailable,
		"":            StatusUnknown,
	}
	for value, expected := range cases {
		assert.Equal(t, expected, interpretPermissionFlag("test", value).Status, value)
	}
}

func TestRunHonoursEnvOverrides(t *testing.T) {
	report := Run(Options{
		LookupEnv: fakeLookup{"SIMDRIVE_ACCESSIBILITY": "granted", "SIMDRIVE_SCREEN_RECORDING": "denied"}.get,
		LookPath:  allTools,
		GOOS:      "darwin",
	})
	assert.Equal(t, StatusGranted, find(t, report, ProbeAccessibility).Status)
	denied := find(t, report, ProbeScreenRecording)
	assert.Equal(t, StatusDenied, denied.Status)
	assert.NotEmpty(t, denied.Guidance)
	assert.False(t, report.OK())
}

func TestRunDarwinDefaultsPrompt(t *testing.T) {
	report := Run(Options{LookupEnv: fakeLookup{}.get, LookPath: allTools, GOOS: "darwin"})
	assert.Equal(t, StatusPromptRequired, find(t, report, ProbeAccessibility).Status)
	assert.Equal(t, StatusGranted, find(t, report, ProbeXcrun).Status)
}

func TestRunSyntheticOnlyNeedsEncoder(t *testing.T) {
	report := Run(Options{LookupEnv: fakeLookup{}.get, LookPath: allTools, GOOS: "linux", Backend: "synthetic"})
	assert.Equal(t, StatusUnavailable, find(t, report, ProbeAccessibility).Status)
	assert.True(t, report.OK())

	missing := Run(Options{LookupEnv: fakeLookup{}.get, LookPath: noTools, GOOS: "linux", Backend: "synthetic"})
	encoder := find(t, missing, ProbeEncoder)
	assert.Equal(t, StatusUnavailable, encoder.Status)
	assert.NotEmpty(t, encoder.Guidance)
	assert.False(t, missing.OK())
}
