package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/transition-engine/internal/config"
)

var (
	graphDir   = filepath.Join("..", "..", "loader", "testdata")
	ticketFile = filepath.Join(graphDir, "ticket.yaml")
	brokenFile = filepath.Join(graphDir, "broken.yaml.txt")
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useMemoryStorage(t *testing.T) {
	t.Setenv(config.STORAGE, config.STORAGE_MEMORY)
	t.Setenv(config.STRICT_KINDS, "")
}

func TestValidateCommand(t *testing.T) {
	useMemoryStorage(t)

	out, err := execute(t, "validate", ticketFile)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "(ticket)")

	out, err = execute(t, "validate", ticketFile, brokenFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "initial step missing does not exist")

	out, err = execute(t, "--strict", "validate", brokenFile)
	require.Error(t, err)
	assert.Contains(t, out, "unknown condition kind")
}

func TestValidateCommandJSON(t *testing.T) {
	useMemoryStorage(t)

	out, err := execute(t, "--format", "json", "validate", ticketFile)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	results, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]interface{})["valid"])
}

func TestRunCommand(t *testing.T) {
	useMemoryStorage(t)

	out, err := execute(t, "--format", "json", "run", ticketFile,
		"--step", "open_step", "--action", "start_progress",
		"--set", "assignee_id=agent-1", "--actor", "agent-1")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "in_progress_step", data["new_step_id"])
	assert.Equal(t, "in_progress", data["new_status"])
}

func TestRunCommandRejected(t *testing.T) {
	useMemoryStorage(t)

	out, err := execute(t, "run", ticketFile,
		"--step", "open_step", "--action", "start_progress",
		"--set", "assignee_id=agent-1", "--actor", "agent-2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Transition rejected")
	assert.Contains(t, out, "Condition failed: jira.user.condition")
	assert.Contains(t, out, "[skipped] Post-functions skipped")
}

func TestRunCommandWithContext(t *testing.T) {
	useMemoryStorage(t)

	out, err := execute(t, "run", ticketFile,
		"--step", "in_progress_step", "--action", "resolve",
		"--set", "requester_id=customer-1", "--actor", "agent-1",
		"--context", "resolution=fixed")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Transition succeeded: resolved_step (resolved)")
	assert.Contains(t, out, "Mutations: map[resolution:fixed status:resolved]")
}

func TestRunCommandUnknownGraph(t *testing.T) {
	useMemoryStorage(t)

	_, err := execute(t, "run", "no-such-graph", "--step", "a", "--action", "b")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTransitionsCommand(t *testing.T) {
	useMemoryStorage(t)

	out, err := execute(t, "transitions", ticketFile, "--step", "resolved_step")
	require.NoError(t, err)
	assert.Contains(t, out, "- reopen (Reopen) -> open_step")
	assert.Contains(t, out, "- close (Close) -> closed_step")

	out, err = execute(t, "transitions", ticketFile, "--step", "resolved_step",
		"--actor", "customer-1", "--set", "requester_id=customer-1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ reopen")
	assert.Contains(t, out, "✗ close")

	out, err = execute(t, "transitions", ticketFile, "--step", "closed_step")
	require.NoError(t, err)
	assert.Contains(t, out, "terminal")

	_, err = execute(t, "transitions", ticketFile, "--step", "nowhere")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestImportRunHistoryWithSQLite(t *testing.T) {
	t.Setenv(config.STORAGE, config.STORAGE_SQLITE)
	t.Setenv(config.SQLITE_PATH, filepath.Join(t.TempDir(), "cli.db"))

	out, err := execute(t, "import", graphDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 graph(s): approval, service, ticket")

	_, err = execute(t, "run", "ticket",
		"--step", "open_step", "--action", "start_progress",
		"--set", "id=ticket-7", "--set", "assignee_id=agent-1", "--actor", "agent-1")
	require.NoError(t, err)

	out, err = execute(t, "--format", "json", "history", "ticket")
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	recs := resp.Data.([]interface{})
	require.Len(t, recs, 1)
	rec := recs[0].(map[string]interface{})
	assert.Equal(t, "ticket-7", rec["record_id"])
	assert.Equal(t, "start_progress", rec["action_id"])

	out, err = execute(t, "prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 execution(s)")
}

func TestImportBrokenGraph(t *testing.T) {
	useMemoryStorage(t)

	_, err := execute(t, "import", brokenFile)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCommandErrors(t *testing.T) {
	useMemoryStorage(t)

	_, err := execute(t, "--format", "xml", "validate", ticketFile)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	t.Setenv(config.STORAGE, "postgres")
	_, err = execute(t, "history", "ticket")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "prune", "--older-than", "soon")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecuteReportsErrors(t *testing.T) {
	useMemoryStorage(t)
	run := func(args ...string) (int, string, string) {
		stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
		code := Execute(context.Background(), args, stdout, stderr)
		return code, stdout.String(), stderr.String()
	}

	t.Run("json import of a broken graph", func(t *testing.T) {
		code, stdout, _ := run("--format", "json", "import", brokenFile)
		assert.Equal(t, ExitFailure, code)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeInvalidGraph, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "failed to import graphs")
		assert.Contains(t, resp.Error.Message, "initial step missing does not exist")
		assert.NotEmpty(t, resp.Error.Details)
	})

	t.Run("json unknown graph", func(t *testing.T) {
		code, stdout, _ := run("--format", "json", "run", "no-such-graph", "--step", "a", "--action", "b")
		assert.Equal(t, ExitCommandError, code)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, ErrCodeCommand, resp.Error.Code)
		assert.Nil(t, resp.Error.Details)
	})

	t.Run("json rejection keeps the single result document", func(t *testing.T) {
		code, stdout, stderr := run("--format", "json", "run", ticketFile,
			"--step", "open_step", "--action", "start_progress",
			"--set", "assignee_id=agent-1", "--actor", "agent-2")
		assert.Equal(t, ExitFailure, code)
		assert.Contains(t, stderr, "transition rejected")

		var resp CLIResponse
		require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Error)
	})

	t.Run("text mode writes stderr", func(t *testing.T) {
		code, stdout, stderr := run("prune", "--older-than", "soon")
		assert.Equal(t, ExitCommandError, code)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, `invalid retention "soon"`)
	})

	t.Run("success", func(t *testing.T) {
		code, stdout, _ := run("validate", ticketFile)
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, "✓")
	})
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", assert.AnError)))
}
