// Package zomp implements the ZOMP/1.0 wire protocol: an HTTP-like,
// header/body framed, code-driven request/response protocol spoken between
// the controller and its agents over TCP.
//
// # Framing
//
// Every message starts with a status line and ends with a CRLFCRLF
// terminator:
//
//	ZOMP/1.0 <code> <text>\r\n
//	<invocation>\r\n             (non-0x codes only)
//	Content-Length: <N>\r\n      (non-0x codes only)
//	\r\n
//	<N body bytes>               (codes 12 and 30 only)
//
// Codes beginning with "0" are informational or errors and consist of the
// status line alone.
//
// # Decoding
//
// Decoder accumulates raw bytes and yields one Message per call to Next.
// The two sides read different shapes off the wire, so a Decoder is built
// with a Role: RoleController parses agent responses, RoleAgent parses
// controller requests. Body reads are exact: a declared Content-Length of
// N hands back precisely N bytes, and anything past them is retained for
// the next message.
//
// # Error recovery
//
// ErrMalformedHeader and ErrMissingInvocation consume the offending header
// and leave the decoder in sync; sessions reply with a 01/5 message and
// keep the connection open. Only ErrConnectionClosed ends a session.
package zomp
