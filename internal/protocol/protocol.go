// Package protocol implements the stdio tool protocol (spec.md §6):
// fifteen request/response operations framed as newline-delimited JSON
// on stdin/stdout, shaped one-to-one against internal/engine's public
// API. The transport itself is deliberately thin, mirroring the
// teacher's own DebuggerIdeCmdLoop split between framing
// (constructDbgpPacket/ReadString) and dispatch (dispatchIdeRequest):
// this package owns dispatch (dispatch.go) and the newline-JSON framing
// (server.go); cmd/serve.go hands it stdin and stdout.
package protocol

import "encoding/json"

// Request is one tool invocation read from stdin.
type Request struct {
	ID     int             `json:"id"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is written to stdout for every Request, matched by ID.
type Response struct {
	ID      int             `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Notification is an unsolicited push for an engine event (breakpoint
// hits, steps, exceptions, output, exit) — the async half of the
// protocol, carried over the same stdout stream as responses but
// distinguished by having no ID the caller ever sent.
type Notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func okResult(v interface{}) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Result: b}
}

func errResult(msg string) Response {
	return Response{Success: false, Error: msg}
}
