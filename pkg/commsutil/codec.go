package commsutil

import (
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a value to JSON bytes for a COMMS message.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode failed: %w", codecLogPrefix, err)
	}
	return data, nil
}

// DecodePayload deserializes COMMS message bytes into the given target. An
// empty message is an error: every registry payload has a body.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%s - empty payload", codecLogPrefix)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - decode failed: %w", codecLogPrefix, err)
	}
	return nil
}
