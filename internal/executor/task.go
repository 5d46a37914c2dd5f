// ABOUTME: ScriptTask supervises one background script execution.
// ABOUTME: Scripts run as ./<name> <args...> in the work dir, stdout captured.

package executor

import (
	"bytes"
	"os/exec"
)

// ScriptTask is one running script invocation. It exists in the task table
// only while the underlying process is alive; completion moves its output
// into the ReportCache, a STOP discards it.
type ScriptTask struct {
	Invocation string

	cmd    *exec.Cmd
	output bytes.Buffer

	// stopped is set under the executor's lock before the process is
	// killed, so the waiter knows not to cache partial output.
	stopped bool
}

// startTask launches the script as a child process. The returned task's
// process is already running; the caller must arrange for Wait.
func startTask(invocation, script string, args []string, workDir string) (*ScriptTask, error) {
	cmd := exec.Command("./"+script, args...)
	cmd.Dir = workDir

	task := &ScriptTask{Invocation: invocation, cmd: cmd}
	cmd.Stdout = &task.output

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return task, nil
}

// kill forcibly terminates the script's process. Wait still runs in the
// supervising goroutine and performs the table cleanup.
func (t *ScriptTask) kill() error {
	return t.cmd.Process.Kill()
}
