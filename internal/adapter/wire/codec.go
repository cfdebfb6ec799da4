// Package wire implements frame serialization: a CBOR envelope shared by
// the client socket and the worker channel, and a length-prefixed stream
// framing for the worker's stdin/stdout pipe.
//
// CBOR keeps byte-stream payloads as raw byte strings, so binary artifacts
// cross the wire without a text re-encoding.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cillow-dev/cillow/internal/domain"
)

// MarshalFrame encodes a response frame into one wire payload.
func MarshalFrame(f domain.Frame) ([]byte, error) {
	b, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("op=wire.MarshalFrame kind=%s: %w", f.Kind, err)
	}
	return b, nil
}

// UnmarshalFrame decodes one wire payload into a response frame.
func UnmarshalFrame(data []byte) (domain.Frame, error) {
	var f domain.Frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return domain.Frame{}, fmt.Errorf("op=wire.UnmarshalFrame: %w", err)
	}
	return f, nil
}

// MarshalRequest encodes a client request into one wire payload.
func MarshalRequest(r domain.Request) ([]byte, error) {
	b, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("op=wire.MarshalRequest kind=%s: %w", r.Kind, err)
	}
	return b, nil
}

// UnmarshalRequest decodes one wire payload into a client request.
func UnmarshalRequest(data []byte) (domain.Request, error) {
	var r domain.Request
	if err := cbor.Unmarshal(data, &r); err != nil {
		return domain.Request{}, fmt.Errorf("op=wire.UnmarshalRequest: %w", domain.ErrMalformedRequest)
	}
	if !r.Kind.Valid() {
		return domain.Request{}, fmt.Errorf("op=wire.UnmarshalRequest kind=%q: %w", r.Kind, domain.ErrMalformedRequest)
	}
	return r, nil
}
