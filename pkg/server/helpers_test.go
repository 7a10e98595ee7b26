package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

// testLogger returns a logger that discards everything. Tests that assert on
// log output build their own.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestContext builds a Context for a synthetic request against the default
// configuration, recording the response.
func newTestContext(t *testing.T, method, target string, body io.Reader) (*Context, *httptest.ResponseRecorder) {
	t.Helper()
	r := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	config := DefaultServerConfig()
	ctx, err := newContext(r, w, config, nil, newCookiePolicy(config))
	if err != nil {
		t.Fatalf("newContext: %v", err)
	}
	return ctx, w
}

// newTestServer builds a Server with default configuration suitable for
// in-process ServeHTTP tests.
func newTestServer(t *testing.T, config *ServerConfig) *Server {
	t.Helper()
	slog.SetDefault(testLogger())
	return New(config)
}

func multipartBody(boundary string, parts ...string) io.Reader {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString(part)
	}
	b.WriteString("--" + boundary + "--\r\n")
	return strings.NewReader(b.String())
}

func fieldPart(name, value string) string {
	return "Content-Disposition: form-data; name=\"" + name + "\"\r\n\r\n" + value + "\r\n"
}

func filePart(name, filename, contentType, content string) string {
	return "Content-Disposition: form-data; name=\"" + name + "\"; filename=\"" + filename + "\"\r\n" +
		"Content-Type: " + contentType + "\r\n\r\n" + content + "\r\n"
}
