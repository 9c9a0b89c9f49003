package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/momentics/hioload-gate/protocol"
)

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

func TestComputeAcceptKeyRFCVector(t *testing.T) {
	got := protocol.ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	if got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept = %q", got)
	}
}

func TestParseHandshake(t *testing.T) {
	up, err := protocol.ParseHandshake([]byte(sampleRequest), nil)
	if err != nil {
		t.Fatalf("ParseHandshake: %v", err)
	}
	if up.Accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" || up.Path != "/chat" {
		t.Errorf("upgrade = %+v", up)
	}
	want := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n"
	if got := string(up.Response()); got != want {
		t.Errorf("response =\n%q\nwant\n%q", got, want)
	}
}

func TestParseHandshakeCaseInsensitiveKey(t *testing.T) {
	req := strings.Replace(sampleRequest, "Sec-WebSocket-Key", "sec-websocket-key", 1)
	up, err := protocol.ParseHandshake([]byte(req), nil)
	if err != nil {
		t.Fatalf("ParseHandshake: %v", err)
	}
	if up.Key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("key = %q", up.Key)
	}
}

func TestParseHandshakeRejections(t *testing.T) {
	noKey := strings.Replace(sampleRequest, "Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n", "", 1)
	if _, err := protocol.ParseHandshake([]byte(noKey), nil); !errors.Is(err, protocol.ErrMissingKey) {
		t.Errorf("missing key err = %v", err)
	}

	deny := func([]byte) bool { return false }
	if _, err := protocol.ParseHandshake([]byte(sampleRequest), deny); !errors.Is(err, protocol.ErrValidationFailed) {
		t.Errorf("validator err = %v", err)
	}

	if _, err := protocol.ParseHandshake([]byte("garbage\r\n\r\n"), nil); !errors.Is(err, protocol.ErrMalformedRequest) {
		t.Errorf("garbage err = %v", err)
	}
}

func TestReadHeader(t *testing.T) {
	frame := []byte{0x81, 0x80, 1, 2, 3, 4}
	src := io.MultiReader(strings.NewReader(sampleRequest), bytes.NewReader(frame))
	hdr, rest, err := protocol.ReadHeader(iotest.OneByteReader(src), protocol.MaxHandshakeHeadersSize)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if string(hdr) != sampleRequest {
		t.Errorf("header = %q", hdr)
	}
	if len(rest) != 0 {
		// one-byte reads stop right at the terminator
		t.Errorf("rest = %v", rest)
	}

	hdr, rest, err = protocol.ReadHeader(io.MultiReader(strings.NewReader(sampleRequest+string(frame))), 1<<12)
	if err != nil || string(hdr) != sampleRequest || !bytes.Equal(rest, frame) {
		t.Errorf("bulk read: hdr=%q rest=%v err=%v", hdr, rest, err)
	}
}

func TestReadHeaderLimits(t *testing.T) {
	endless := strings.NewReader(strings.Repeat("X-Filler: aaaaaaaa\r\n", 1000))
	if _, _, err := protocol.ReadHeader(endless, 512); !errors.Is(err, protocol.ErrHeaderTooLarge) {
		t.Errorf("err = %v, want ErrHeaderTooLarge", err)
	}
	if _, _, err := protocol.ReadHeader(strings.NewReader("GET / HTTP/1.1\r\n"), 512); !errors.Is(err, protocol.ErrMalformedRequest) {
		t.Errorf("err = %v, want ErrMalformedRequest", err)
	}
}

func TestClientHandshakeRoundTrip(t *testing.T) {
	key, err := protocol.NewClientKey()
	if err != nil {
		t.Fatal(err)
	}
	up, err := protocol.ParseHandshake(protocol.ClientRequest("localhost:9000", "/", key), nil)
	if err != nil {
		t.Fatalf("server side: %v", err)
	}
	if err := protocol.VerifyServerResponse(up.Response(), key); err != nil {
		t.Fatalf("client side: %v", err)
	}
	if err := protocol.VerifyServerResponse(up.Response(), "b3RoZXIga2V5IG5vbmNlIQ=="); !errors.Is(err, protocol.ErrBadServerResponse) {
		t.Errorf("mismatched key err = %v", err)
	}
}
