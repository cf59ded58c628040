package wire

import (
	"fmt"
	"io"
	"net"

	"github.com/5yncr/syncr/pkg/canon"
)

// Handler answers one decoded Request, returning either a payload to wrap
// in {status: "ok", response: ...} or an error to map to {status: "error",
// error: <code>} via CodeFromError (spec §4.6).
type Handler func(*Request) (interface{}, error)

// Serve runs the one-request-per-connection discipline of spec §6.3 on
// conn: read the request to EOF, dispatch to handle, write the response,
// close. Intended to be called once per accepted connection.
func Serve(conn net.Conn, handle Handler) error {
	defer conn.Close()

	reqData, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("wire: read request: %w", err)
	}

	var req Request
	resp := Response{Status: "ok"}
	if err := canon.Decode(reqData, &req); err != nil {
		resp = Response{Status: "error", Error: CodeInvalidInput}
	} else if payload, err := handle(&req); err != nil {
		resp = Response{Status: "error", Error: CodeFromError(err)}
	} else {
		resp.Response = payload
	}

	respData, err := canon.Encode(&resp)
	if err != nil {
		return fmt.Errorf("wire: encode response: %w", err)
	}

	if _, err := conn.Write(respData); err != nil {
		return fmt.Errorf("wire: write response: %w", err)
	}
	return nil
}
