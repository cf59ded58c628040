package wire

import (
	"fmt"

	"github.com/5yncr/syncr/pkg/syncerr"
)

// Error codes carried in Response.Error (spec §4.5): NEXIST (unknown
// drop/file/chunk), INCOMPAT (protocol mismatch), INVINPUT (malformed
// request), EXCEPTION (unknown).
const (
	CodeNotExist             = "NEXIST"
	CodeIncompatibleProtocol = "INCOMPAT"
	CodeInvalidInput         = "INVINPUT"
	CodeException            = "EXCEPTION"
)

// ErrorFromCode maps a received wire error code to a syncerr-flavored error.
func ErrorFromCode(code, message string) error {
	switch code {
	case CodeNotExist:
		return syncerr.NotExist(message)
	case CodeIncompatibleProtocol:
		return syncerr.IncompatibleProtocol(message)
	case CodeInvalidInput:
		return syncerr.New(syncerr.KindVerification, message, nil)
	default:
		return fmt.Errorf("wire: %s: %s", code, message)
	}
}

// CodeFromError maps a local error to the wire code a request handler
// should report for it (spec §4.6: NEXIST when the drop/file/chunk is
// unknown locally, INCOMPAT on protocol-version mismatch).
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return ""
	case syncerr.Is(err, syncerr.KindNotExist):
		return CodeNotExist
	case syncerr.Is(err, syncerr.KindIncompatibleProtocol):
		return CodeIncompatibleProtocol
	case syncerr.Is(err, syncerr.KindVerification):
		return CodeInvalidInput
	default:
		return CodeException
	}
}
