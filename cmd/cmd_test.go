package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/testexec/internal/domain"
	"github.com/xiaot623/gogo/testexec/internal/hub"
	"github.com/xiaot623/gogo/testexec/internal/logging"
)

func TestParseCaseIDs(t *testing.T) {
	ids, err := parseCaseIDs([]string{"1", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 42}, ids)

	for _, bad := range []string{"0", "-1", "x"} {
		_, err := parseCaseIDs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPrintValue(t *testing.T) {
	report := domain.EnvironmentReport{Ready: true, ExecutionEnabled: true, AllowedCommands: []string{"allure"}}

	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, outputJSON, report))
	assert.Contains(t, buf.String(), `"execution_enabled": true`)

	buf.Reset()
	require.NoError(t, printValue(&buf, outputYAML, report))
	assert.Contains(t, buf.String(), "execution_enabled: true")
	assert.Contains(t, buf.String(), "- allure")

	assert.Error(t, printValue(&buf, "table", report))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeRunFailed, exitCode(failed("status %s", "failed")))
	assert.Equal(t, ExitCodeError, exitCode(errors.New("boom")))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "enqueue", "check", "watch"} {
		assert.True(t, names[want], want)
	}
}

func TestCheckCommand(t *testing.T) {
	t.Setenv("DATABASE_URL", filepath.Join(t.TempDir(), "testexec.db"))
	t.Setenv("EXECUTION_BASE_DIR", t.TempDir())
	t.Setenv("ALLOWED_COMMANDS", "sh,definitely-not-installed-cmd")
	t.Setenv("RUNNER_COMMAND", "sh")
	t.Setenv("REPORT_COMMAND", "sh")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newCheckCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-o", "yaml"})
	cmd.SetContext(context.Background())

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCodeRunFailed, exitCode(err))
	assert.Contains(t, out.String(), "definitely-not-installed-cmd")
	assert.Contains(t, out.String(), "ready: false")
}

func TestWatchStreamsResults(t *testing.T) {
	h := hub.New(hub.Options{}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Serve(w, r, nil)
	}))
	defer srv.Close()

	client, err := dialResults(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), []int64{42})
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return h.ConnectionCount() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Deliver(ctx, domain.ResultNotification{
		ExecutionID: "exec-1",
		Mode:        domain.ExecutionModeSingle,
		CaseIDs:     []int64{42},
		Status:      domain.ExecutionStatusFailed,
	}))

	var out bytes.Buffer
	require.NoError(t, client.stream(&out, outputJSON, 1))
	assert.Contains(t, out.String(), "# subscribed as")
	assert.Contains(t, out.String(), `"execution_id": "exec-1"`)
	assert.Contains(t, out.String(), `"status": "failed"`)
}
