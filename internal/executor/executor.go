// ABOUTME: Agent-side executor: serves one controller connection and runs scripts.
// ABOUTME: Decodes requests, supervises background tasks, answers from the report cache.

package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"mvdan.cc/sh/v3/shell"

	"github.com/liaoxmichael/botnet/internal/zomp"
)

// Executor owns the agent's single connection to the controller. The serve
// loop handles one request at a time, while script execution happens in
// background tasks so the agent stays responsive to STOP/REPORT/new-RUN
// traffic during a run.
type Executor struct {
	conn    net.Conn
	workDir string
	logger  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*ScriptTask
	cache *ReportCache
}

// New returns an executor serving the given controller connection.
// Scripts are resolved and run relative to workDir.
func New(conn net.Conn, workDir string, logger *slog.Logger) *Executor {
	return &Executor{
		conn:    conn,
		workDir: workDir,
		logger:  logger.With("component", "executor"),
		tasks:   make(map[string]*ScriptTask),
		cache:   NewReportCache(),
	}
}

// Register announces the agent to the controller. The controller's ACCEPT
// comes back through the regular serve loop.
func (e *Executor) Register() error {
	msg := &zomp.Message{Code: zomp.CodeReady, Text: "Ready to be registered"}
	if _, err := e.conn.Write(msg.Encode()); err != nil {
		return fmt.Errorf("sending ready: %w", err)
	}
	return nil
}

// Serve decodes and handles requests until the controller sends CLOSE or
// the connection is lost. Protocol errors get a 01 reply and the loop
// continues; running tasks are killed on the way out.
func (e *Executor) Serve() error {
	defer e.stopAll()

	dec := zomp.NewDecoder(e.conn, zomp.RoleAgent)
	for {
		msg, err := dec.Next()
		switch {
		case errors.Is(err, zomp.ErrConnectionClosed):
			e.logger.Info("controller closed the connection")
			return nil
		case errors.Is(err, zomp.ErrMalformedHeader), errors.Is(err, zomp.ErrMissingInvocation):
			e.logger.Warn("bad request from controller", "error", err)
			e.reply(zomp.CodeBadRequest, "Bad request", "", nil)
			continue
		case err != nil:
			return fmt.Errorf("decoding request: %w", err)
		}

		switch msg.Code {
		case zomp.CodeClose:
			e.logger.Info("CLOSE received, terminating")
			return nil
		case zomp.CodeNotUnderstood:
			e.logger.Warn("controller did not understand our last response")
		case zomp.CodeAccept:
			e.logger.Info("registered with controller")
		case zomp.CodeRun, zomp.CodeStop, zomp.CodeReport:
			e.handleCommand(msg)
		default:
			e.logger.Warn("ignoring unknown code", "code", msg.Code, "text", msg.Text)
		}
	}
}

// handleCommand validates the invocation and dispatches RUN/STOP/REPORT.
func (e *Executor) handleCommand(msg *zomp.Message) {
	fields, err := shell.Fields(msg.Invocation, nil)
	if err != nil || len(fields) == 0 {
		e.logger.Warn("unparseable invocation", "invocation", msg.Invocation, "error", err)
		e.reply(zomp.CodeBadRequest, "Bad request", "", nil)
		return
	}

	script, args := fields[0], fields[1:]
	path := filepath.Join(e.workDir, script)
	if _, err := os.Stat(path); err != nil {
		e.reply(zomp.CodeScriptNotFound, "Script not found", "", nil)
		return
	}

	switch msg.Code {
	case zomp.CodeRun:
		e.run(msg.Invocation, script, args, path)
	case zomp.CodeStop:
		e.stop(msg.Invocation)
	case zomp.CodeReport:
		e.report(msg.Invocation)
	}
}

// run answers a RUN command. A task already running for this key wins;
// otherwise a cached report is returned immediately as advisory data and a
// fresh execution is started regardless, overwriting the cache entry once
// it completes.
func (e *Executor) run(invocation, script string, args []string, path string) {
	e.mu.Lock()
	_, running := e.tasks[invocation]
	e.mu.Unlock()
	if running {
		e.reply(zomp.CodeRunAlready, "Ignore, script already running", invocation, nil)
		return
	}

	if cached, ok := e.cache.Get(invocation); ok {
		e.reply(zomp.CodeRunCached, "OK, returning existing report", invocation, cached)
	} else {
		e.reply(zomp.CodeRunStarted, "OK, running script", invocation, nil)
	}

	if err := os.Chmod(path, 0o755); err != nil {
		e.logger.Warn("marking script executable", "script", script, "error", err)
	}

	e.logger.Info("running script", "invocation", invocation)
	task, err := startTask(invocation, script, args, e.workDir)
	if err != nil {
		// No protocol code exists for spawn failures; surfaced in the log.
		e.logger.Error("starting script", "invocation", invocation, "error", err)
		return
	}

	e.mu.Lock()
	e.tasks[invocation] = task
	e.mu.Unlock()

	go e.await(task)
}

// await blocks on the task's process and publishes its output. Stopped
// tasks were already removed from the table and never touch the cache.
func (e *Executor) await(task *ScriptTask) {
	err := task.cmd.Wait()

	e.mu.Lock()
	if e.tasks[task.Invocation] == task {
		delete(e.tasks, task.Invocation)
	}
	stopped := task.stopped
	e.mu.Unlock()

	switch {
	case stopped:
		e.logger.Info("script stopped", "invocation", task.Invocation)
	case err != nil:
		e.logger.Warn("script failed", "invocation", task.Invocation, "error", err)
	default:
		out := task.output.Bytes()
		e.cache.Put(task.Invocation, out)
		e.logger.Info("script completed", "invocation", task.Invocation, "output_bytes", len(out))
	}
}

func (e *Executor) stop(invocation string) {
	e.mu.Lock()
	task, running := e.tasks[invocation]
	if running {
		task.stopped = true
		delete(e.tasks, invocation)
	}
	e.mu.Unlock()

	if running {
		e.logger.Info("stopping script", "invocation", invocation)
		if err := task.kill(); err != nil {
			e.logger.Error("killing script", "invocation", invocation, "error", err)
		}
		e.reply(zomp.CodeStopStopped, "OK, stopping script", invocation, nil)
		return
	}

	if _, ok := e.cache.Get(invocation); ok {
		e.reply(zomp.CodeStopCompleted, "Ignore, script completed running", invocation, nil)
		return
	}
	e.reply(zomp.CodeStopNotFound, "Ignore, script not currently running", invocation, nil)
}

func (e *Executor) report(invocation string) {
	e.mu.Lock()
	_, running := e.tasks[invocation]
	e.mu.Unlock()

	if running {
		e.reply(zomp.CodeReportWaiting, "No report, waiting on completion", invocation, nil)
		return
	}
	if body, ok := e.cache.Get(invocation); ok {
		e.logger.Info("reporting", "invocation", invocation, "output_bytes", len(body))
		e.reply(zomp.CodeReportBody, "OK, reporting", invocation, body)
		return
	}
	e.reply(zomp.CodeReportNone, "No report, not running script", invocation, nil)
}

// stopAll kills every running task. Used on CLOSE and on teardown.
func (e *Executor) stopAll() {
	e.mu.Lock()
	tasks := make([]*ScriptTask, 0, len(e.tasks))
	for _, task := range e.tasks {
		task.stopped = true
		tasks = append(tasks, task)
	}
	e.tasks = make(map[string]*ScriptTask)
	e.mu.Unlock()

	for _, task := range tasks {
		if err := task.kill(); err != nil {
			e.logger.Warn("killing script", "invocation", task.Invocation, "error", err)
		}
	}
}

// reply encodes and sends one response. Send failures are logged, not
// fatal: the decode loop notices a dead connection on its own.
func (e *Executor) reply(code, text, invocation string, body []byte) {
	msg := &zomp.Message{Code: code, Text: text, Invocation: invocation, Body: body}
	if _, err := e.conn.Write(msg.Encode()); err != nil {
		e.logger.Warn("sending response", "code", code, "error", err)
	}
}
