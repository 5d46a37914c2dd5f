// ABOUTME: Tests for the agent executor: RUN/STOP/REPORT lifecycle and caching.
// ABOUTME: Drives a real executor over net.Pipe with real shell scripts in a temp dir.

package executor

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liaoxmichael/botnet/internal/zomp"
)

// testAgent wires an Executor to the controller end of an in-memory pipe.
type testAgent struct {
	t       *testing.T
	conn    net.Conn
	dec     *zomp.Decoder
	workDir string

	done     chan error
	doneOnce sync.Once
	doneErr  error
}

// waitDone blocks until the serve loop has exited and returns its error.
func (a *testAgent) waitDone() error {
	a.doneOnce.Do(func() {
		select {
		case a.doneErr = <-a.done:
		case <-time.After(5 * time.Second):
			a.t.Error("executor did not shut down")
		}
	})
	return a.doneErr
}

func startTestAgent(t *testing.T) *testAgent {
	t.Helper()

	ctrl, agentConn := net.Pipe()
	workDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	exec := New(agentConn, workDir, logger)
	done := make(chan error, 1)
	go func() { done <- exec.Serve() }()

	a := &testAgent{
		t:       t,
		conn:    ctrl,
		dec:     zomp.NewDecoder(ctrl, zomp.RoleController),
		workDir: workDir,
		done:    done,
	}
	t.Cleanup(func() {
		ctrl.Close()
		a.waitDone()
	})
	return a
}

func (a *testAgent) writeScript(name, content string) {
	a.t.Helper()
	err := os.WriteFile(filepath.Join(a.workDir, name), []byte(content), 0o644)
	require.NoError(a.t, err)
}

func (a *testAgent) send(code, text, invocation string) {
	a.t.Helper()
	msg := &zomp.Message{Code: code, Text: text, Invocation: invocation}
	_, err := a.conn.Write(msg.Encode())
	require.NoError(a.t, err)
}

func (a *testAgent) recv() *zomp.Message {
	a.t.Helper()
	msg, err := a.dec.Next()
	require.NoError(a.t, err)
	return msg
}

// waitForReport polls REPORT until the agent hands back a body.
func (a *testAgent) waitForReport(invocation string) *zomp.Message {
	a.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		a.send(zomp.CodeReport, "REPORT", invocation)
		msg := a.recv()
		if msg.Code == zomp.CodeReportBody {
			return msg
		}
		require.Equal(a.t, zomp.CodeReportWaiting, msg.Code)
		time.Sleep(20 * time.Millisecond)
	}
	a.t.Fatalf("no report for %q before deadline", invocation)
	return nil
}

func TestRunCachesAndReports(t *testing.T) {
	a := startTestAgent(t)
	a.writeScript("echo.sh", "#!/bin/sh\necho hi\n")

	// First RUN: nothing cached, script starts fresh.
	a.send(zomp.CodeRun, "RUN", "echo.sh hi")
	resp := a.recv()
	assert.Equal(t, zomp.CodeRunStarted, resp.Code)
	assert.Equal(t, "echo.sh hi", resp.Invocation)

	// Once the task completes, REPORT returns the captured stdout.
	report := a.waitForReport("echo.sh hi")
	assert.Equal(t, []byte("hi\n"), report.Body)

	// A second RUN returns the cached report as the response body and
	// still triggers a fresh execution.
	a.send(zomp.CodeRun, "RUN", "echo.sh hi")
	resp = a.recv()
	assert.Equal(t, zomp.CodeRunCached, resp.Code)
	assert.Equal(t, []byte("hi\n"), resp.Body)
}

func TestRunTriggersFreshExecution(t *testing.T) {
	a := startTestAgent(t)
	// Every run appends a line, so the report body tells runs apart.
	a.writeScript("count.sh", "#!/bin/sh\necho run >> marker\ncat marker\n")

	a.send(zomp.CodeRun, "RUN", "count.sh")
	require.Equal(t, zomp.CodeRunStarted, a.recv().Code)
	report := a.waitForReport("count.sh")
	require.Equal(t, []byte("run\n"), report.Body)

	a.send(zomp.CodeRun, "RUN", "count.sh")
	resp := a.recv()
	require.Equal(t, zomp.CodeRunCached, resp.Code)
	assert.Equal(t, []byte("run\n"), resp.Body, "12 reply carries the previous report")

	// The cache entry is overwritten once the re-execution completes.
	deadline := time.Now().Add(10 * time.Second)
	for {
		report = a.waitForReport("count.sh")
		if string(report.Body) == "run\nrun\n" {
			break
		}
		require.True(t, time.Now().Before(deadline), "re-execution never landed in the cache")
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunWhileRunning(t *testing.T) {
	a := startTestAgent(t)
	a.writeScript("sleep.sh", "#!/bin/sh\nsleep 10\n")

	a.send(zomp.CodeRun, "RUN", "sleep.sh 10")
	require.Equal(t, zomp.CodeRunStarted, a.recv().Code)

	a.send(zomp.CodeRun, "RUN", "sleep.sh 10")
	assert.Equal(t, zomp.CodeRunAlready, a.recv().Code)

	// Distinct invocation strings are distinct keys, even for one script.
	a.send(zomp.CodeRun, "RUN", "sleep.sh  10")
	assert.Equal(t, zomp.CodeRunStarted, a.recv().Code)
}

func TestStop(t *testing.T) {
	a := startTestAgent(t)
	a.writeScript("loop.sh", "#!/bin/sh\nwhile true; do sleep 1; done\n")

	t.Run("running task is stopped without caching", func(t *testing.T) {
		a.send(zomp.CodeRun, "RUN", "loop.sh")
		require.Equal(t, zomp.CodeRunStarted, a.recv().Code)

		a.send(zomp.CodeStop, "STOP", "loop.sh")
		assert.Equal(t, zomp.CodeStopStopped, a.recv().Code)

		a.send(zomp.CodeReport, "REPORT", "loop.sh")
		assert.Equal(t, zomp.CodeReportNone, a.recv().Code, "a stopped run must not leave a report behind")
	})

	t.Run("stop on never-run invocation", func(t *testing.T) {
		a.send(zomp.CodeStop, "STOP", "loop.sh forever")
		assert.Equal(t, zomp.CodeStopNotFound, a.recv().Code)
	})

	t.Run("stop after completion", func(t *testing.T) {
		a.writeScript("quick.sh", "#!/bin/sh\necho done\n")
		a.send(zomp.CodeRun, "RUN", "quick.sh")
		require.Equal(t, zomp.CodeRunStarted, a.recv().Code)
		a.waitForReport("quick.sh")

		a.send(zomp.CodeStop, "STOP", "quick.sh")
		assert.Equal(t, zomp.CodeStopCompleted, a.recv().Code)
	})
}

func TestReportStates(t *testing.T) {
	a := startTestAgent(t)
	a.writeScript("sleep.sh", "#!/bin/sh\nsleep 10\n")

	t.Run("not running and never ran", func(t *testing.T) {
		a.send(zomp.CodeReport, "REPORT", "sleep.sh 99")
		assert.Equal(t, zomp.CodeReportNone, a.recv().Code)
	})

	t.Run("still running", func(t *testing.T) {
		a.send(zomp.CodeRun, "RUN", "sleep.sh 10")
		require.Equal(t, zomp.CodeRunStarted, a.recv().Code)

		a.send(zomp.CodeReport, "REPORT", "sleep.sh 10")
		assert.Equal(t, zomp.CodeReportWaiting, a.recv().Code)
	})
}

func TestScriptNotFound(t *testing.T) {
	a := startTestAgent(t)

	for _, code := range []string{zomp.CodeRun, zomp.CodeStop, zomp.CodeReport} {
		a.send(code, "X", "missing.sh")
		assert.Equal(t, zomp.CodeScriptNotFound, a.recv().Code)
	}
}

func TestBadRequestKeepsConnectionOpen(t *testing.T) {
	a := startTestAgent(t)
	a.writeScript("echo.sh", "#!/bin/sh\necho hi\n")

	// Legacy bare RUN without an invocation line.
	_, err := a.conn.Write([]byte("ZOMP/1.0 1 RUN\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, zomp.CodeBadRequest, a.recv().Code)

	// Garbage status line.
	_, err = a.conn.Write([]byte("nonsense\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, zomp.CodeBadRequest, a.recv().Code)

	// The session is still healthy.
	a.send(zomp.CodeRun, "RUN", "echo.sh")
	assert.Equal(t, zomp.CodeRunStarted, a.recv().Code)
}

func TestCloseTerminatesServe(t *testing.T) {
	a := startTestAgent(t)
	a.writeScript("sleep.sh", "#!/bin/sh\nsleep 10\n")

	a.send(zomp.CodeRun, "RUN", "sleep.sh 10")
	require.Equal(t, zomp.CodeRunStarted, a.recv().Code)

	a.send(zomp.CodeClose, "CLOSE", "")
	assert.NoError(t, a.waitDone())
}

func TestRegister(t *testing.T) {
	ctrl, agentConn := net.Pipe()
	defer ctrl.Close()

	exec := New(agentConn, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	regErr := make(chan error, 1)
	go func() { regErr <- exec.Register() }()

	dec := zomp.NewDecoder(ctrl, zomp.RoleController)
	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, zomp.CodeReady, msg.Code)
	assert.Equal(t, "Ready to be registered", msg.Text)
	require.NoError(t, <-regErr)
}

func TestReportCache(t *testing.T) {
	cache := NewReportCache()

	_, ok := cache.Get("echo.sh hi")
	assert.False(t, ok)

	cache.Put("echo.sh hi", []byte("hi\n"))
	body, ok := cache.Get("echo.sh hi")
	require.True(t, ok)
	assert.Equal(t, []byte("hi\n"), body)

	cache.Put("echo.sh hi", []byte("fresh\n"))
	body, _ = cache.Get("echo.sh hi")
	assert.Equal(t, []byte("fresh\n"), body)
	assert.Equal(t, 1, cache.Len())
}
