package integration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var (
	buildOnce   sync.Once
	builtBinary string
	buildErr    error
)

// buildBinary builds the semrun binary once per test run and returns its path
func buildBinary(t *testing.T) string {
	t.Helper()

	buildOnce.Do(func() {
		// Project root is two directories up from test/integration
		wd, err := os.Getwd()
		if err != nil {
			buildErr = err
			return
		}
		projectRoot := filepath.Join(wd, "..", "..")

		dir, err := os.MkdirTemp("", "semrun-integration")
		if err != nil {
			buildErr = err
			return
		}
		builtBinary = filepath.Join(dir, "semrun")

		cmd := exec.Command("go", "build", "-o", builtBinary, "./cmd/semrun")
		cmd.Dir = projectRoot
		if output, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("%v\n%s", err, output)
		}
	})
	if buildErr != nil {
		t.Fatalf("failed to build binary: %v", buildErr)
	}
	return builtBinary
}

// jobsDir creates a jobs directory holding the given scripts
func jobsDir(t *testing.T, scripts map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

// result is the outcome of a finished semrun invocation
type result struct {
	code   int
	stdout string
	stderr string
}

// runSemrun runs the binary to completion
func runSemrun(t *testing.T, binary string, args ...string) result {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "NO_COLOR=1")

	err := cmd.Run()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("running semrun: %v", err)
	}
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// startSemrun starts the binary without waiting for it
func startSemrun(t *testing.T, binary string, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "NO_COLOR=1")

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start semrun: %v", err)
	}
	return cmd
}

// killSemrun forcefully kills the semrun process
func killSemrun(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

// runInfo mirrors the run file written for each active run
type runInfo struct {
	PID  int    `json:"pid"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// waitForRun waits until ps reports the run of pid with its API address
func waitForRun(t *testing.T, binary, dir string, pid int, timeout time.Duration) string {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res := runSemrun(t, binary, "ps", "--dir", dir, "--json")
		var runs []runInfo
		if res.code == 0 && json.Unmarshal([]byte(res.stdout), &runs) == nil {
			for _, r := range runs {
				if r.PID == pid && r.Port > 0 {
					return fmt.Sprintf("http://%s:%d", r.Host, r.Port)
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("run %d did not appear within %v", pid, timeout)
	return ""
}

// jobInfo is the subset of a job response the tests look at
type jobInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`
	RC    *int   `json:"rc"`
}

// waitForJobState waits for a job to reach a specific state
func waitForJobState(t *testing.T, addr, name, state string, timeout time.Duration) jobInfo {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/jobs/%s", addr, name))
		if err == nil {
			var job jobInfo
			if err := json.NewDecoder(resp.Body).Decode(&job); err == nil {
				last = job.State
				if job.State == state {
					resp.Body.Close()
					return job
				}
			}
			resp.Body.Close()
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %q within %v (last state: %q)", name, state, timeout, last)
	return jobInfo{}
}

// waitExit waits for cmd to exit and returns its exit code
func waitExit(t *testing.T, cmd *exec.Cmd, timeout time.Duration) int {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		if err != nil {
			t.Fatalf("waiting for semrun: %v", err)
		}
		return 0
	case <-time.After(timeout):
		cmd.Process.Kill()
		t.Fatalf("semrun did not exit within %v", timeout)
		return -1
	}
}

// skipShort skips the test if -short flag is provided
func skipShort(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
