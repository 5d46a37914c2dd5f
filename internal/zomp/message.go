// ABOUTME: ZOMP/1.0 message type, status codes, and wire encoding.
// ABOUTME: Encoding is symmetric and shared by the controller and agent sides.

package zomp

import (
	"fmt"
	"strings"
)

// Version is the only protocol version this codec speaks.
const Version = "1.0"

// DefaultPort is the controller's listening port.
const DefaultPort = 1932

// Status and command codes. Requests and responses share one namespace;
// only the direction of travel distinguishes them.
const (
	CodeReady          = "00" // agent -> controller: register me
	CodeBadRequest     = "01" // either side: malformed or incomplete message
	CodeScriptNotFound = "02" // agent -> controller: no such script

	CodeAccept        = "0" // controller -> agent: registration ack
	CodeRun           = "1" // controller -> agent: RUN command
	CodeStop          = "2" // controller -> agent: STOP command
	CodeReport        = "3" // controller -> agent: REPORT command
	CodeNotUnderstood = "5" // controller -> agent: response made no sense
	CodeClose         = "9" // controller -> agent: shut down

	CodeRunStarted = "10" // OK, running script
	CodeRunAlready = "11" // already running, ignored
	CodeRunCached  = "12" // not running, cached report attached

	CodeStopStopped   = "20" // OK, stopped
	CodeStopNotFound  = "21" // nothing to stop
	CodeStopCompleted = "22" // already ran to completion

	CodeReportBody    = "30" // OK, report attached
	CodeReportWaiting = "31" // still running, try again later
	CodeReportNone    = "32" // never ran, nothing cached
)

// Message is one framed ZOMP exchange unit. Text carries the command name
// on requests and a human-readable status on responses. Invocation is the
// full script line (name plus arguments) and doubles as the identity key
// for the agent's task table and report cache.
type Message struct {
	Version    string
	Code       string
	Text       string
	Invocation string
	Body       []byte
}

// HasBody reports whether this code may carry an entity body on the wire.
// Only the two report-bearing responses ever do.
func HasBody(code string) bool {
	return code == CodeRunCached || code == CodeReportBody
}

// Encode renders the message in wire form: a status line, then for codes
// that carry an invocation an invocation line and a Content-Length line,
// then the CRLFCRLF terminator, then the body bytes if any. Codes without
// an invocation (registration, errors, NOT UNDERSTOOD, CLOSE) are bare
// status-line frames; an empty invocation line would split the frame at
// the wrong CRLFCRLF.
func (m *Message) Encode() []byte {
	version := m.Version
	if version == "" {
		version = Version
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ZOMP/%s %s %s\r\n", version, m.Code, m.Text)

	// 0x codes are informational or errors and never frame a body.
	if !strings.HasPrefix(m.Code, "0") && (m.Invocation != "" || len(m.Body) > 0) {
		fmt.Fprintf(&b, "%s\r\n", m.Invocation)
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(m.Body))
	}
	b.WriteString("\r\n")

	out := []byte(b.String())
	return append(out, m.Body...)
}
