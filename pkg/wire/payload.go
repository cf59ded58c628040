package wire

import (
	"fmt"

	"github.com/5yncr/syncr/pkg/canon"
)

// DecodePayload re-encodes resp.Response (decoded generically by Send) and
// decodes it into out, recovering the concrete payload type named by the
// request's RequestType (e.g. *DropMetadataPayload).
func DecodePayload(resp *Response, out interface{}) error {
	data, err := canon.Encode(resp.Response)
	if err != nil {
		return fmt.Errorf("wire: re-encode response payload: %w", err)
	}
	if err := canon.Decode(data, out); err != nil {
		return fmt.Errorf("wire: decode response payload: %w", err)
	}
	return nil
}
