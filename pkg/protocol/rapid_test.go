package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// drawOptionalName draws either nil or a screen name for hello replies.
func drawOptionalName(t *rapid.T) *string {
	if !rapid.Bool().Draw(t, "hasName") {
		return nil
	}
	name := rapid.StringMatching(`[a-z][a-z0-9-]{0,30}`).Draw(t, "name")
	return &name
}

// messageGens holds one generator per message variant.
var messageGens = []func(t *rapid.T) Message{
	func(t *rapid.T) Message {
		return &HelloBarrier{
			Major: rapid.Uint16().Draw(t, "major"),
			Minor: rapid.Uint16().Draw(t, "minor"),
			Name:  drawOptionalName(t),
		}
	},
	func(t *rapid.T) Message {
		return &HelloSynergy{
			Major: rapid.Uint16().Draw(t, "major"),
			Minor: rapid.Uint16().Draw(t, "minor"),
			Name:  drawOptionalName(t),
		}
	},
	func(t *rapid.T) Message { return &NoOp{} },
	func(t *rapid.T) Message { return &Close{} },
	func(t *rapid.T) Message { return &CursorLeft{} },
	func(t *rapid.T) Message { return &ResetOptions{} },
	func(t *rapid.T) Message { return &InfoAck{} },
	func(t *rapid.T) Message { return &KeepAlive{} },
	func(t *rapid.T) Message { return &QueryInfo{} },
	func(t *rapid.T) Message { return &ServerBusy{} },
	func(t *rapid.T) Message { return &UnknownClient{} },
	func(t *rapid.T) Message { return &ProtocolViolation{} },
	func(t *rapid.T) Message {
		return &CursorEntered{
			X:        rapid.Int16().Draw(t, "x"),
			Y:        rapid.Int16().Draw(t, "y"),
			Sequence: rapid.Uint32().Draw(t, "sequence"),
			Mask:     rapid.Uint16().Draw(t, "mask"),
		}
	},
	func(t *rapid.T) Message {
		return &ClientClipboard{
			ID:       rapid.Byte().Draw(t, "id"),
			Sequence: rapid.Uint32().Draw(t, "sequence"),
		}
	},
	func(t *rapid.T) Message {
		return &ScreenSaverChange{State: rapid.Byte().Draw(t, "state")}
	},
	func(t *rapid.T) Message {
		return &KeyDown{
			KeyID:  rapid.Uint16().Draw(t, "keyID"),
			Mask:   rapid.Uint16().Draw(t, "mask"),
			Button: rapid.Uint16().Draw(t, "button"),
		}
	},
	func(t *rapid.T) Message {
		return &KeyUp{
			KeyID:  rapid.Uint16().Draw(t, "keyID"),
			Mask:   rapid.Uint16().Draw(t, "mask"),
			Button: rapid.Uint16().Draw(t, "button"),
		}
	},
	func(t *rapid.T) Message {
		return &KeyDownLang{
			KeyID:  rapid.Uint16().Draw(t, "keyID"),
			Mask:   rapid.Uint16().Draw(t, "mask"),
			Button: rapid.Uint16().Draw(t, "button"),
			Lang:   rapid.String().Draw(t, "lang"),
		}
	},
	func(t *rapid.T) Message {
		return &KeyRepeat{
			KeyID:  rapid.Uint16().Draw(t, "keyID"),
			Mask:   rapid.Uint16().Draw(t, "mask"),
			Button: rapid.Uint16().Draw(t, "button"),
			Count:  rapid.Uint16().Draw(t, "count"),
			Lang:   rapid.String().Draw(t, "lang"),
		}
	},
	func(t *rapid.T) Message {
		return &MouseButtonDown{Button: rapid.Byte().Draw(t, "button")}
	},
	func(t *rapid.T) Message {
		return &MouseButtonUp{Button: rapid.Byte().Draw(t, "button")}
	},
	func(t *rapid.T) Message {
		return &MouseMove{
			X: rapid.Int16().Draw(t, "x"),
			Y: rapid.Int16().Draw(t, "y"),
		}
	},
	func(t *rapid.T) Message {
		return &MouseRelativeMove{
			DX: rapid.Int16().Draw(t, "dx"),
			DY: rapid.Int16().Draw(t, "dy"),
		}
	},
	func(t *rapid.T) Message {
		return &MouseWheel{
			XDelta: rapid.Int16().Draw(t, "xDelta"),
			YDelta: rapid.Int16().Draw(t, "yDelta"),
		}
	},
	func(t *rapid.T) Message {
		return &ClipboardData{
			ID:       rapid.Byte().Draw(t, "id"),
			Sequence: rapid.Uint32().Draw(t, "sequence"),
			Mark:     rapid.SampledFrom([]uint8{StreamSingle, StreamStart, StreamMiddle, StreamEnd}).Draw(t, "mark"),
			Data:     rapid.String().Draw(t, "data"),
		}
	},
	func(t *rapid.T) Message {
		return &ClientInfo{
			X:      rapid.Uint16().Draw(t, "x"),
			Y:      rapid.Uint16().Draw(t, "y"),
			Width:  rapid.Uint16().Draw(t, "width"),
			Height: rapid.Uint16().Draw(t, "height"),
			MouseX: rapid.Uint16().Draw(t, "mouseX"),
			MouseY: rapid.Uint16().Draw(t, "mouseY"),
			Size:   rapid.Uint16().Draw(t, "size"),
		}
	},
	func(t *rapid.T) Message {
		pairs := rapid.IntRange(0, 8).Draw(t, "pairs")
		var opts []Option
		for i := 0; i < pairs; i++ {
			opts = append(opts, Option{
				Key:   OptionKey(rapid.Uint32().Draw(t, "key")),
				Value: rapid.Uint32().Draw(t, "value"),
			})
		}
		return &SetOptions{Options: opts}
	},
	func(t *rapid.T) Message {
		return &FileTransfer{
			Mark: rapid.SampledFrom([]uint8{StreamStart, StreamMiddle, StreamEnd}).Draw(t, "mark"),
			Data: rapid.String().Draw(t, "data"),
		}
	},
	func(t *rapid.T) Message {
		return &DragInfo{
			FileCount: rapid.Uint16().Draw(t, "fileCount"),
			Files:     rapid.String().Draw(t, "files"),
		}
	},
	func(t *rapid.T) Message {
		return &SecureInput{App: rapid.String().Draw(t, "app")}
	},
	func(t *rapid.T) Message {
		return &LanguageSync{Languages: rapid.String().Draw(t, "languages")}
	},
	func(t *rapid.T) Message {
		return &IncompatibleVersion{
			RemoteMajor: rapid.Uint16().Draw(t, "remoteMajor"),
			RemoteMinor: rapid.Uint16().Draw(t, "remoteMinor"),
		}
	},
}

func drawMessage(t *rapid.T) Message {
	i := rapid.IntRange(0, len(messageGens)-1).Draw(t, "variant")
	return messageGens[i](t)
}

// TestMessageRoundTrip tests that every message variant survives an
// encode/decode cycle byte for byte.
func TestMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := drawMessage(t)

		// Encode
		payload := original.Encode()

		// Decode
		decoded, err := DecodeMessage(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded.Code() != original.Code() {
			t.Fatalf("code mismatch: got %q, want %q", decoded.Code(), original.Code())
		}

		// Verify round-trip
		if !bytes.Equal(decoded.Encode(), payload) {
			t.Fatalf("re-encode mismatch for %q", original.Code())
		}
	})
}

// TestHelloRoundTrip tests hello greetings and replies with and without a name
func TestHelloRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := &HelloBarrier{
			Major: rapid.Uint16().Draw(t, "major"),
			Minor: rapid.Uint16().Draw(t, "minor"),
			Name:  drawOptionalName(t),
		}

		// Encode
		payload := original.Encode()

		// Decode
		decoded, err := DecodeMessage(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		hello, ok := decoded.(*HelloBarrier)
		if !ok {
			t.Fatalf("decoded to %T, want *HelloBarrier", decoded)
		}

		// Verify round-trip
		if hello.Major != original.Major || hello.Minor != original.Minor {
			t.Fatalf("version mismatch: got %d.%d, want %d.%d",
				hello.Major, hello.Minor, original.Major, original.Minor)
		}
		if (hello.Name == nil) != (original.Name == nil) {
			t.Fatalf("name presence mismatch")
		}
		if original.Name != nil && *hello.Name != *original.Name {
			t.Fatalf("name mismatch: got %q, want %q", *hello.Name, *original.Name)
		}
	})
}

// TestSetOptionsCountProperty tests that k pairs always encode as element
// count 1+2k and decode back in order.
func TestSetOptionsCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pairs := rapid.IntRange(0, 16).Draw(t, "pairs")
		opts := make([]Option, 0, pairs)
		for i := 0; i < pairs; i++ {
			opts = append(opts, Option{
				Key:   OptionKey(rapid.Uint32().Draw(t, "key")),
				Value: rapid.Uint32().Draw(t, "value"),
			})
		}
		original := &SetOptions{Options: opts}

		// Encode
		payload := original.Encode()
		count := binary.BigEndian.Uint32(payload[4:8])
		if count != uint32(1+2*pairs) {
			t.Fatalf("element count %d, want %d", count, 1+2*pairs)
		}

		// Decode
		decoded, err := DecodeMessage(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		got := decoded.(*SetOptions).Options
		if len(got) != pairs {
			t.Fatalf("decoded %d pairs, want %d", len(got), pairs)
		}

		// Verify round-trip
		for i, opt := range got {
			if opt != opts[i] {
				t.Fatalf("pair %d mismatch: got %+v, want %+v", i, opt, opts[i])
			}
		}
	})
}

// TestTruncatedMessageProperty tests that cutting any message short always
// yields InsufficientDataError, never a bogus decode. Hello replies are
// excluded: a reply cut right after the version is a valid greeting.
func TestTruncatedMessageProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		original := drawMessage(t)
		switch original.(type) {
		case *HelloBarrier, *HelloSynergy:
			t.Skip("hello replies shrink to valid greetings")
		}

		payload := original.Encode()
		cut := rapid.IntRange(0, len(payload)-1).Draw(t, "cut")

		_, err := DecodeMessage(payload[:cut])
		if err == nil {
			t.Fatalf("decode of %d/%d bytes succeeded", cut, len(payload))
		}
		var insufficient *InsufficientDataError
		if !errors.As(err, &insufficient) {
			t.Fatalf("got %v, want InsufficientDataError", err)
		}
		if insufficient.Actual != cut {
			t.Fatalf("actual %d, want %d", insufficient.Actual, cut)
		}
		if insufficient.Expected <= cut {
			t.Fatalf("expected %d does not reach beyond cut %d", insufficient.Expected, cut)
		}
	})
}

// TestFrameStreamRoundTrip tests that frames written back to back decode in
// order through both the reader and the buffer parser.
func TestFrameStreamRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(t, "n")
		msgs := make([]Message, 0, n)
		for i := 0; i < n; i++ {
			msgs = append(msgs, drawMessage(t))
		}

		// Encode
		var buf bytes.Buffer
		for _, m := range msgs {
			if err := WriteFrame(&buf, m); err != nil {
				t.Fatalf("write failed: %v", err)
			}
		}
		stream := append([]byte(nil), buf.Bytes()...)

		// Decode
		for i, want := range msgs {
			got, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("read %d failed: %v", i, err)
			}

			// Verify round-trip
			if !bytes.Equal(got.Encode(), want.Encode()) {
				t.Fatalf("message %d mismatch: got %q, want %q", i, got.Code(), want.Code())
			}
		}
		if buf.Len() != 0 {
			t.Fatalf("%d leftover bytes after reads", buf.Len())
		}

		// The buffer parser drains the same stream frame by frame.
		parsed := 0
		for len(stream) > 0 {
			msg, consumed, err := ParseFrame(stream)
			if err != nil {
				t.Fatalf("parse %d failed: %v", parsed, err)
			}
			if !bytes.Equal(msg.Encode(), msgs[parsed].Encode()) {
				t.Fatalf("parsed message %d mismatch", parsed)
			}
			stream = stream[consumed:]
			parsed++
		}
		if parsed != n {
			t.Fatalf("parsed %d frames, want %d", parsed, n)
		}
	})
}
