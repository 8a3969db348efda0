package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/snappy"
)

// CompressThreshold is the encoded size beyond which frames are snappy-compressed.
const CompressThreshold = 4 << 10

// ErrEmptyType indicates an envelope without a message type.
var ErrEmptyType = errors.New("message type must not be empty")

// Envelope is the outer JSON shape shared by both directions of the protocol.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FrameKind distinguishes plain JSON frames from snappy-compressed ones.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Frame is a ready-to-send websocket payload.
type Frame struct {
	Kind  FrameKind
	Bytes []byte
}

// Encode marshals the payload into an envelope frame, compressing large payloads.
func Encode(msgType string, payload any) (Frame, error) {
	if strings.TrimSpace(msgType) == "" {
		return Frame{}, ErrEmptyType
	}
	//1.- Marshal the payload first so envelope data stays raw JSON.
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		data = encoded
	}
	raw, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s envelope: %w", msgType, err)
	}
	//2.- Large snapshots travel as snappy blocks on binary frames.
	if len(raw) >= CompressThreshold {
		return Frame{Kind: FrameBinary, Bytes: snappy.Encode(nil, raw)}, nil
	}
	return Frame{Kind: FrameText, Bytes: raw}, nil
}

// Decode parses an inbound frame back into its envelope.
func Decode(kind FrameKind, payload []byte) (Envelope, error) {
	raw := payload
	if kind == FrameBinary {
		//1.- Binary frames are always snappy blocks wrapping the JSON envelope.
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("decompress frame: %w", err)
		}
		raw = decoded
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return Envelope{}, ErrEmptyType
	}
	return envelope, nil
}

// DecodeData unmarshals the envelope payload into the destination struct.
func DecodeData(envelope Envelope, dst any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%s payload missing", envelope.Type)
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.Type, err)
	}
	return nil
}
