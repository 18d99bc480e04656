package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/config"
	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/errreport"
	"github.com/charliek/semrun/internal/gate"
)

type testApp struct {
	*App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	t.Setenv(constants.ConfigEnvVar, "")
	var stdout, stderr bytes.Buffer
	return &testApp{App: NewApp(&stdout, &stderr), stdout: &stdout, stderr: &stderr}
}

// writeScript creates an executable shell script in dir
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

func TestVersion(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"version"}))
	assert.Equal(t, "semrun version dev\n", app.stdout.String())
}

func TestCommandLineErrorsAreUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"run", "--bogus"}},
		{"unknown command", []string{"bogus"}},
		{"too many args", []string{"run", "a", "b"}},
		{"missing args", []string{"cancel"}},
		{"bad flag value", []string{"run", "--slots", "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestApp(t).Execute(tt.args)
			require.Error(t, err)
			assert.Equal(t, errreport.ExitUsage, errreport.ExitCode(err))
		})
	}
}

func TestRun_NoJobs(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()

	require.NoError(t, app.Execute([]string{"run", "--no-api", "--gate-mode", "local", dir}))
	assert.Contains(t, app.stdout.String(), "No jobs to run")
}

func TestRun_MissingDir(t *testing.T) {
	app := newTestApp(t)
	err := app.Execute([]string{"run", "--no-api", filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.Equal(t, errreport.ExitNoInput, errreport.ExitCode(err))
}

func TestRun_InvalidSlots(t *testing.T) {
	app := newTestApp(t)
	err := app.Execute([]string{"run", "--slots", "0", t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, errreport.ExitUsage, errreport.ExitCode(err))
}

func TestRun_ExitCodeFollowsWorstJob(t *testing.T) {
	tests := []struct {
		name    string
		scripts map[string]string
		code    int
	}{
		{"success", map[string]string{"a.sh": "echo a", "b.sh": "echo b"}, 0},
		{"failure", map[string]string{"a.sh": "exit 0", "b.sh": "exit 5"}, 1},
		{"signal", map[string]string{"a.sh": "exit 5", "b.sh": "kill -KILL $$"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tt.scripts {
				writeScript(t, dir, name, body)
			}

			app := newTestApp(t)
			err := app.Execute([]string{"run", "--no-api", "--gate-mode", "local", "--slots", "2", dir})
			assert.Equal(t, tt.code, errreport.ExitCode(err))
			if tt.code != 0 {
				// The summary already told the user; nothing more is printed
				var stderr bytes.Buffer
				errreport.Report(&stderr, "semrun", err)
				assert.Empty(t, stderr.String())
			}
			assert.Contains(t, app.stdout.String(), "JOB")
			assert.Contains(t, app.stdout.String(), "a.sh")
		})
	}
}

func TestRun_PrintsJobOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "greet.sh", "echo hello; echo oops >&2")

	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"run", "--no-api", "--gate-mode", "local", dir}))

	out := app.stdout.String()
	assert.Contains(t, out, "greet.sh | hello")
	assert.Contains(t, out, "greet.sh | oops")
	assert.Contains(t, out, "1 succeeded, 0 failed")

	// The run file is gone once the run ends
	entries, err := os.ReadDir(filepath.Join(dir, ".semrun", "runs"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ConfigFileInJobsDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a.sh", `test "$GREETING" = hi`)
	writeScript(t, dir, "b.sh", "exit 1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "semrun.yaml"),
		[]byte("env:\n  GREETING: hi\ngate:\n  mode: local\napi:\n  enabled: false\njobs:\n  b.sh:\n    disable: true\n"), 0644))

	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"run", dir}))
	assert.NotContains(t, app.stdout.String(), "b.sh")
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.sh", "true")
	writeScript(t, dir, "a.sh", "true")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"list", "--json", "--all", dir}))

	var out listOutput
	require.NoError(t, json.Unmarshal(app.stdout.Bytes(), &out))
	require.Len(t, out.Jobs, 2)
	assert.Equal(t, "a.sh", out.Jobs[0].Name)
	assert.Equal(t, "b.sh", out.Jobs[1].Name)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "notes.txt", out.Skipped[0].Name)
	assert.Equal(t, "not executable", out.Skipped[0].Reason)
}

func TestList_Table(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "deploy.sh", "true")

	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"list", "--exclude", "x*", dir}))
	assert.Contains(t, app.stdout.String(), "JOB")
	assert.Contains(t, app.stdout.String(), "deploy.sh")
}

func TestPs_NoRuns(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"ps", "--dir", t.TempDir()}))
	assert.Contains(t, app.stdout.String(), "No active runs")

	app = newTestApp(t)
	require.NoError(t, app.Execute([]string{"ps", "--json", "--dir", t.TempDir()}))
	assert.JSONEq(t, "[]", app.stdout.String())
}

func TestStatus_NoRun(t *testing.T) {
	app := newTestApp(t)
	err := app.Execute([]string{"status", "--dir", t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no semrun run is active")
}

// fakeRun serves canned API responses for the client commands
func fakeRun(t *testing.T) *httptest.Server {
	t.Helper()
	rc := 3
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.StatusResponse{
			Status: "running", PID: 99, JobsDir: "/jobs", Total: 2,
			Counts: map[string]int{"running": 1, "failed": 1},
		})
	})
	mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.JobListResponse{Jobs: []api.JobResponse{
			{Name: "a.sh", State: "running", PID: 100, Attempts: 1},
			{Name: "b.sh", State: "failed", Attempts: 1, Exit: "exit 3", RC: &rc},
		}})
	})
	mux.HandleFunc("/api/v1/jobs/b.sh", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.JobDetailResponse{
			JobResponse: api.JobResponse{Name: "b.sh", State: "failed", Attempts: 1, Exit: "exit 3", RC: &rc},
			Path:        "/jobs/b.sh",
		})
	})
	mux.HandleFunc("/api/v1/gate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.GateResponse{Kind: "sysv", Key: "0x53000001", Capacity: 2, InUse: 1, Available: 1})
	})
	mux.HandleFunc("/api/v1/jobs/a.sh/cancel", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.SuccessResponse{Success: true})
	})
	mux.HandleFunc("/api/v1/shutdown", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.SuccessResponse{Success: true})
	})
	mux.HandleFunc("/api/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.LogsResponse{Logs: []api.LogEntryResponse{
			{Job: "a.sh", Stream: "stdout", Line: "working"},
		}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClientCommands(t *testing.T) {
	server := fakeRun(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"status", []string{"status"}, []string{"Run:    99 (running", "1 failed, 1 running", "a.sh", "exit 3", "key 0x53000001"}},
		{"job status", []string{"status", "b.sh"}, []string{"Path:", "/jobs/b.sh", "exit 3"}},
		{"logs", []string{"logs"}, []string{"a.sh", "| working"}},
		{"cancel", []string{"cancel", "a.sh"}, []string{"Canceled a.sh"}},
		{"stop", []string{"stop"}, []string{"Stopping run"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			args := append([]string{"--addr", server.URL}, tt.args...)
			require.NoError(t, app.Execute(args))
			for _, want := range tt.want {
				assert.Contains(t, app.stdout.String(), want)
			}
		})
	}
}

func TestStatus_JSON(t *testing.T) {
	server := fakeRun(t)
	app := newTestApp(t)
	require.NoError(t, app.Execute([]string{"--addr", server.URL, "status", "--json"}))

	var out struct {
		Status api.StatusResponse `json:"status"`
		Jobs   []api.JobResponse  `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(app.stdout.Bytes(), &out))
	assert.Equal(t, 99, out.Status.PID)
	assert.Len(t, out.Jobs, 2)
}

func TestCancel_UnknownJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job not found: x", Code: "JOB_NOT_FOUND"})
	}))
	defer server.Close()

	app := newTestApp(t)
	err := app.Execute([]string{"--addr", server.URL, "cancel", "x"})
	require.Error(t, err)
	assert.Equal(t, errreport.ExitNoInput, errreport.ExitCode(err))
}

func TestLogs_InvalidLines(t *testing.T) {
	app := newTestApp(t)
	err := app.Execute([]string{"--addr", "http://127.0.0.1:1", "logs", "-n", "-1"})
	assert.Equal(t, errreport.ExitUsage, errreport.ExitCode(err))
}

func TestGateSet_InvalidSlots(t *testing.T) {
	app := newTestApp(t)
	err := app.Execute([]string{"gate", "set", "zero", "--dir", t.TempDir()})
	assert.Equal(t, errreport.ExitUsage, errreport.ExitCode(err))
}

func TestGateConfig_KeyKeepsAll32Bits(t *testing.T) {
	app := newTestApp(t)
	cfg := config.Default()
	cfg.Gate.Key = 0xdeadbeef

	gc := app.gateConfig(cfg)
	assert.Equal(t, "0xdeadbeef", gate.FormatKey(gc.Key))
	key, err := gc.ResolveKey()
	require.NoError(t, err)
	assert.NotZero(t, key)
}

func TestRun_RefusesNonLoopbackAPIHost(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	writeScript(t, dir, "a.sh", "exit 0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "semrun.yaml"), []byte("api:\n  host: 0.0.0.0\n"), 0644))

	err := app.Execute([]string{"run", "--gate-mode", "local", dir})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, errreport.ExitConfig, errreport.ExitCode(err))
	assert.Contains(t, err.Error(), "api.host")
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "-", formatCounts(nil))
	assert.Equal(t, "2 pending, 1 running", formatCounts(map[string]int{"running": 1, "pending": 2}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0s", "-"},
		{"250ms", "250ms"},
		{"1.5s", "1.5s"},
		{"90s", "1m30s"},
		{"3h5m", "3h5m"},
	}
	for _, tt := range tests {
		d, err := time.ParseDuration(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, formatDuration(d), tt.in)
	}
}
