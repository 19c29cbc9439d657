package devproxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-zoox/compress/gzip"
)

func TestReconcileContentFraming(t *testing.T) {
	res := &http.Response{
		Header: http.Header{
			"Content-Encoding": []string{"chunked"},
			"Content-Length":   []string{"100"},
		},
		ContentLength: 100,
	}
	reconcileContentFraming(res)
	if got := res.Header.Get("Content-Length"); got != "" {
		t.Errorf("Content-Length = %q; want it gone", got)
	}
	if res.ContentLength != -1 {
		t.Errorf("ContentLength = %d; want -1", res.ContentLength)
	}

	// A deleted Content-Length means the body length is no longer announced.
	res = &http.Response{
		Header:        http.Header{},
		ContentLength: 100,
	}
	reconcileContentFraming(res)
	if res.ContentLength != -1 {
		t.Errorf("ContentLength = %d; want -1", res.ContentLength)
	}

	// An untouched response keeps its framing.
	res = &http.Response{
		Header:        http.Header{"Content-Length": []string{"100"}},
		ContentLength: 100,
	}
	reconcileContentFraming(res)
	if res.ContentLength != 100 {
		t.Errorf("ContentLength = %d; want 100", res.ContentLength)
	}
	if got := res.Header.Get("Content-Length"); got != "100" {
		t.Errorf("Content-Length = %q; want %q", got, "100")
	}
}

func TestParseHostPort(t *testing.T) {
	for _, c := range []struct {
		in   string
		host string
		port string
	}{
		{"localhost:8089", "localhost", "8089"},
		{"localhost", "localhost", "80"},
		{"127.0.0.1:5173", "127.0.0.1", "5173"},
	} {
		host, port := ParseHostPort(c.in)
		if host != c.host || port != c.port {
			t.Errorf("ParseHostPort(%q) = (%q, %q); want (%q, %q)", c.in, host, port, c.host, c.port)
		}
	}
}

func TestRewriteBody(t *testing.T) {
	res := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader("<body></body>")),
	}

	err := RewriteBody(res, func(b []byte) ([]byte, error) {
		return bytes.Replace(b, []byte("</body>"), []byte("<script src=\"/hmr.js\"></script></body>"), 1), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := io.ReadAll(res.Body)
	if !bytes.Contains(b, []byte("/hmr.js")) {
		t.Errorf("body was not rewritten: %q", b)
	}
	if res.ContentLength != int64(len(b)) {
		t.Errorf("ContentLength = %d; want %d", res.ContentLength, len(b))
	}
}

func TestRewriteBodyGzip(t *testing.T) {
	g := gzip.New()
	compressed := g.Compress([]byte("hello upstream"))

	res := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"gzip"}},
		Body:   io.NopCloser(bytes.NewReader(compressed)),
	}

	err := RewriteBody(res, func(b []byte) ([]byte, error) {
		return bytes.Replace(b, []byte("upstream"), []byte("client"), 1), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := io.ReadAll(res.Body)
	decoded, err := g.Decompress(b)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(decoded) != "hello client" {
		t.Errorf("got %q; want %q", decoded, "hello client")
	}
}

func TestRewriteBodyUnsupportedEncoding(t *testing.T) {
	res := &http.Response{
		Header: http.Header{"Content-Encoding": []string{"br"}},
		Body:   io.NopCloser(strings.NewReader("x")),
	}

	err := RewriteBody(res, func(b []byte) ([]byte, error) { return b, nil })
	if err == nil {
		t.Error("expected error for unsupported encoding, got nil")
	}
}
