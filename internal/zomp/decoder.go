// ABOUTME: Incremental decoder for ZOMP messages off a raw byte stream.
// ABOUTME: Role-aware: controllers read agent responses, agents read controller requests.

package zomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Role selects which side's header rules the decoder applies.
type Role int

const (
	// RoleController decodes agent responses (00/01/02 and the 1x/2x/3x family).
	RoleController Role = iota
	// RoleAgent decodes controller requests (0/1/2/3/5/9).
	RoleAgent
)

// ErrConnectionClosed is returned when the peer closes the stream. It ends
// the session's decode loop but is not fatal to the rest of the process.
var ErrConnectionClosed = errors.New("connection closed by peer")

// ErrMalformedHeader is returned when a status line does not split into
// version, code, and text, or a declared header line cannot be parsed.
// The offending header has been consumed; the decoder can keep going.
var ErrMalformedHeader = errors.New("malformed header")

// ErrMissingInvocation is returned when a RUN/STOP/REPORT request arrives
// without an invocation line.
var ErrMissingInvocation = errors.New("missing invocation line")

const headerTerminator = "\r\n\r\n"

// readChunkSize is the receive granularity; matches what a peer typically
// sends per socket write.
const readChunkSize = 1024

// Decoder incrementally parses ZOMP messages from a reader, retaining any
// bytes past the current message for the next call. A Decoder is not safe
// for concurrent use; each connection owns exactly one.
type Decoder struct {
	r    io.Reader
	role Role
	buf  []byte
}

// NewDecoder wraps r with a decoder applying the given role's header rules.
func NewDecoder(r io.Reader, role Role) *Decoder {
	return &Decoder{r: r, role: role}
}

// Next blocks until one complete message has been received and returns it.
// A message is complete once its CRLFCRLF terminator has been observed and,
// when a body was declared, exactly that many body bytes have arrived.
// Surplus bytes stay buffered for the following call. Protocol errors
// (ErrMalformedHeader, ErrMissingInvocation) consume the bad header and
// leave the decoder usable; ErrConnectionClosed means the stream is done.
func (d *Decoder) Next() (*Message, error) {
	for {
		if i := bytes.Index(d.buf, []byte(headerTerminator)); i >= 0 {
			header := string(d.buf[:i])
			d.buf = d.buf[i+len(headerTerminator):]
			return d.parseHeader(header)
		}
		if err := d.fill(); err != nil {
			return nil, err
		}
	}
}

// fill appends one read's worth of bytes to the buffer.
func (d *Decoder) fill() error {
	chunk := make([]byte, readChunkSize)
	n, err := d.r.Read(chunk)
	if n > 0 {
		d.buf = append(d.buf, chunk[:n]...)
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("reading stream: %w", err)
}

func (d *Decoder) parseHeader(header string) (*Message, error) {
	lines := strings.Split(header, "\r\n")
	fields := strings.SplitN(strings.TrimSpace(lines[0]), " ", 3)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformedHeader, lines[0])
	}

	msg := &Message{
		Version: strings.TrimPrefix(fields[0], "ZOMP/"),
		Code:    fields[1],
		Text:    fields[2],
	}

	if d.role == RoleAgent {
		return d.parseRequest(msg, lines[1:])
	}
	return d.parseResponse(msg, lines[1:])
}

// parseResponse applies the controller-side rules: registration and error
// codes end with the status line, everything else declares an invocation
// line and a Content-Length line, and only the report-bearing codes are
// followed by a body.
func (d *Decoder) parseResponse(msg *Message, rest []string) (*Message, error) {
	switch msg.Code {
	case CodeReady, CodeBadRequest, CodeScriptNotFound:
		return msg, nil
	}

	if len(rest) != 2 {
		return nil, fmt.Errorf("%w: code %s wants invocation and length lines, got %d lines",
			ErrMalformedHeader, msg.Code, len(rest))
	}
	msg.Invocation = rest[0]

	length, err := parseContentLength(rest[1])
	if err != nil {
		return nil, err
	}
	if length == 0 || !HasBody(msg.Code) {
		return msg, nil
	}
	return msg, d.readBody(msg, length)
}

// parseRequest applies the agent-side rules: the remaining header lines
// form the invocation. A trailing Content-Length line, when present, is
// consumed rather than folded into the invocation so that both symmetric
// and bare request framings decode to the same message.
func (d *Decoder) parseRequest(msg *Message, rest []string) (*Message, error) {
	if n := len(rest); n > 0 && strings.HasPrefix(rest[n-1], "Content-Length:") {
		if _, err := parseContentLength(rest[n-1]); err != nil {
			return nil, err
		}
		rest = rest[:n-1]
	}
	msg.Invocation = strings.Join(rest, " ")

	switch msg.Code {
	case CodeRun, CodeStop, CodeReport:
		if msg.Invocation == "" {
			return nil, fmt.Errorf("%w: code %s", ErrMissingInvocation, msg.Code)
		}
	}
	return msg, nil
}

// readBody blocks until exactly length body bytes are buffered and hands
// them back, keeping any surplus for the next message.
func (d *Decoder) readBody(msg *Message, length int) error {
	for len(d.buf) < length {
		if err := d.fill(); err != nil {
			return err
		}
	}
	msg.Body = append([]byte(nil), d.buf[:length]...)
	d.buf = d.buf[length:]
	return nil
}

func parseContentLength(line string) (int, error) {
	value, ok := strings.CutPrefix(line, "Content-Length:")
	if !ok {
		return 0, fmt.Errorf("%w: expected Content-Length line, got %q", ErrMalformedHeader, line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedHeader, line)
	}
	return n, nil
}
