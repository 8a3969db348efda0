package wire

import (
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(TypePlayerHit, PlayerHit{TargetID: "b", ShooterID: "a", Damage: 10, Health: 90})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame.Kind != FrameText {
		t.Fatalf("small payload should stay textual")
	}

	envelope, err := Decode(frame.Kind, frame.Bytes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Type != TypePlayerHit {
		t.Fatalf("unexpected type %q", envelope.Type)
	}
	var hit PlayerHit
	if err := DecodeData(envelope, &hit); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if hit.TargetID != "b" || hit.Damage != 10 || hit.Health != 90 {
		t.Fatalf("payload mangled: %+v", hit)
	}
}

func TestEncodeCompressesLargeSnapshots(t *testing.T) {
	state := GameState{}
	for i := 0; i < 200; i++ {
		state.Players = append(state.Players, PlayerSnapshot{
			ID:       strings.Repeat("p", 24),
			Username: strings.Repeat("u", 24),
			Health:   100,
			MaxAmmo:  30,
			IsAlive:  true,
		})
	}

	frame, err := Encode(TypeGameState, state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame.Kind != FrameBinary {
		t.Fatalf("large snapshot should compress")
	}

	envelope, err := Decode(frame.Kind, frame.Bytes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var decoded GameState
	if err := DecodeData(envelope, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(decoded.Players) != 200 {
		t.Fatalf("expected 200 players, got %d", len(decoded.Players))
	}
}

func TestEncodeRejectsEmptyType(t *testing.T) {
	if _, err := Encode("  ", nil); err != ErrEmptyType {
		t.Fatalf("expected ErrEmptyType, got %v", err)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	if _, err := Decode(FrameText, []byte("{not json")); err == nil {
		t.Fatalf("expected decode failure")
	}
	if _, err := Decode(FrameBinary, []byte{0xff, 0x01, 0x02}); err == nil {
		t.Fatalf("expected decompress failure")
	}
}
