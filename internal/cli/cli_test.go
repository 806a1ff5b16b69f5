package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konflux-ci/pipeline-migration-tool/internal/discovery"
	"github.com/konflux-ci/pipeline-migration-tool/internal/migrate"
	"github.com/konflux-ci/pipeline-migration-tool/internal/plan"
	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

func TestExitCodeMapping(t *testing.T) {
	_, parseErr := version.Parse("latest")
	require.Error(t, parseErr)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitFailure},
		{name: "version parse", err: parseErr, want: ExitInvalidInput},
		{name: "wrapped parse", err: fmt.Errorf("loading: %w", parseErr), want: ExitInvalidInput},
		{name: "invalid range", err: &plan.InvalidRangeError{}, want: ExitInvalidInput},
		{name: "invalid upgrades", err: &migrate.InvalidUpgradesError{Reason: "x"}, want: ExitInvalidInput},
		{name: "discovery", err: &discovery.DiscoveryError{Repo: "r", Err: errors.New("x")}, want: ExitTransport},
		{name: "transport", err: &registry.TransportError{Op: "o", Ref: "r", Err: errors.New("x")}, want: ExitTransport},
		{name: "step failure", err: &migrate.StepError{Stage: "apply", Err: errors.New("x")}, want: ExitStepFailed},
		{
			name: "step failure wins over transport cause",
			err: &migrate.StepError{Stage: "fetch",
				Err: &registry.TransportError{Op: "o", Ref: "r", Err: errors.New("x")}},
			want: ExitStepFailed,
		},
		{name: "unknown", err: errors.New("boom"), want: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				// exitCode is only reached on error; a nil error maps to the
				// generic failure code by construction.
				assert.Equal(t, ExitFailure, exitCode(nil))
				return
			}
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestReadUpgrades(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		data, err := readUpgrades(`[{"depName":"x"}]`, "")
		require.NoError(t, err)
		assert.Equal(t, `[{"depName":"x"}]`, string(data))
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "upgrades.json")
		require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

		data, err := readUpgrades("", path)
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readUpgrades("", filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})
}

func TestParseRegistryAuth(t *testing.T) {
	auth, err := parseRegistryAuth("robot:s3cr3t@quay.io")
	require.NoError(t, err)
	assert.Equal(t, "quay.io", auth.Host)
	assert.Equal(t, "robot", auth.Username)
	assert.Equal(t, "s3cr3t", auth.Password)

	// Passwords may contain '@' and ':'; the host is after the last '@'.
	auth, err = parseRegistryAuth("robot:p@ss:word@registry.example.com")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com", auth.Host)
	assert.Equal(t, "p@ss:word", auth.Password)

	for _, bad := range []string{"", "quay.io", "robot@quay.io", ":pass@quay.io", "user:pass@"} {
		_, err := parseRegistryAuth(bad)
		assert.Error(t, err, "%q must be rejected", bad)
	}
}

func TestPrintReports(t *testing.T) {
	report := &migrate.RunReport{
		Repo:  "quay.io/konflux-ci/tekton-catalog/task-init",
		File:  ".tekton/build.yaml",
		From:  version.MustParse("0.2"),
		To:    version.MustParse("0.3"),
		State: migrate.RunSucceeded,
		Steps: []*migrate.StepReport{
			{Step: plan.Step{Version: version.MustParse("0.3"), Tag: registry.Tag{Name: "0.3-abc"}}, State: migrate.StepApplied},
		},
	}

	var out bytes.Buffer
	printReports(&out, []*migrate.RunReport{report})

	s := out.String()
	assert.Contains(t, s, "0.2 -> 0.3")
	assert.Contains(t, s, "succeeded")
	assert.Contains(t, s, "0.3-abc")
	assert.Contains(t, s, "applied")
}
