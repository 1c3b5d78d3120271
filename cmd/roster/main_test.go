package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/districtscouts/roster/internal/app"
	"github.com/districtscouts/roster/internal/app/scheduler"
	"github.com/districtscouts/roster/internal/tsa"
	"github.com/districtscouts/roster/internal/workspace"
	apperrors "github.com/districtscouts/roster/pkg/errors"
)

type fixedSource struct{}

func (fixedSource) Fetch(context.Context) (tsa.Snapshot, error) {
	return tsa.Snapshot{
		District: tsa.DistrictPayload{ID: "D1", Name: "Riverside"},
		Groups:   []tsa.GroupPayload{{ID: "G1", Name: "1st Town"}},
	}, nil
}

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`log_level: error
database:
  driver: sqlite
  path: %s
workspace:
  domain: example.org
metrics:
  enabled: false
`, filepath.ToSlash(filepath.Join(dir, "data", "roster.sqlite")))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand(
		app.WithDirectory(workspace.NewMemoryDirectory(nil, nil)),
		app.WithTSASource(fixedSource{}),
	)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHistoryEmpty(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "history")
	require.NoError(t, err)
	require.Contains(t, out, "no runs recorded")
}

func TestImportTSARecordsRun(t *testing.T) {
	config := writeConfig(t)

	out, err := execute(t, "--config", config, "import-tsa")
	require.NoError(t, err)
	require.Contains(t, out, "imported 1 groups")

	out, err = execute(t, "--config", config, "history", "--job", "import-tsa")
	require.NoError(t, err)
	require.Contains(t, out, "import-tsa")
	require.Contains(t, out, "success")
	require.Contains(t, out, "showing 1 of 1")
}

func TestFailedRunIsRecorded(t *testing.T) {
	config := writeConfig(t)

	_, err := execute(t, "--config", config, "import-waiting-list", filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Error(t, err)
	require.Equal(t, 1, apperrors.ExitCode(err))

	out, err := execute(t, "--config", config, "history", "--result", "failure")
	require.NoError(t, err)
	require.Contains(t, out, "import-waiting-list")
}

func TestUpdateMailingGroupsPrintsReport(t *testing.T) {
	config := writeConfig(t)

	_, err := execute(t, "--config", config, "import-tsa")
	require.NoError(t, err)

	out, err := execute(t, "--config", config, "update-mailing-groups")
	require.NoError(t, err)
	require.Regexp(t, `created=[1-9]\d* updated=0`, out)

	out, err = execute(t, "--config", config, "update-mailing-groups")
	require.NoError(t, err)
	require.Contains(t, out, "created=0 updated=0")
	require.NotContains(t, out, "members)")
}

func TestSyncWorkspaceGroupsDryRun(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t), "sync-workspace-groups", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "no changes")
}

func TestCommandArguments(t *testing.T) {
	_, err := execute(t, "--config", writeConfig(t), "import-waiting-list")
	require.Error(t, err)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "nope"))
	require.ErrorContains(t, err, "does not exist")

	cfg, err := loadApplicationConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "example.org", cfg.Workspace.Domain)
}

func TestStatusShowsLastSuccess(t *testing.T) {
	config := writeConfig(t)

	out, err := execute(t, "--config", config, "status")
	require.NoError(t, err)
	require.Regexp(t, `import-tsa\s+0 2 \* \* \*\s+never`, out)

	_, err = execute(t, "--config", config, "import-tsa")
	require.NoError(t, err)

	out, err = execute(t, "--config", config, "status")
	require.NoError(t, err)
	require.NotRegexp(t, `import-tsa\s+\S.*never`, out)
}

func TestServeReturnsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, serve(ctx, "127.0.0.1:0", nil, scheduler.New(nil, nil)))
}
