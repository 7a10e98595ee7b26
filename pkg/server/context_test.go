package server

import (
	"net/http/httptest"
	"regexp"
	"testing"
)

func TestNewContextParsesURL(t *testing.T) {
	ctx, _ := newTestContext(t, "GET", "http://example.com/conversations/10?name=leandro&name=ana", nil)

	if ctx.URL.Scheme != "http" {
		t.Errorf("scheme = %q, want http", ctx.URL.Scheme)
	}
	if ctx.URL.Host != "example.com" {
		t.Errorf("host = %q, want example.com", ctx.URL.Host)
	}
	if ctx.URL.Path != "/conversations/10" {
		t.Errorf("path = %q, want /conversations/10", ctx.URL.Path)
	}
	// Last value per key wins.
	if ctx.SearchParams["name"] != "ana" {
		t.Errorf("name = %q, want ana", ctx.SearchParams["name"])
	}
	if ctx.ID == "" {
		t.Error("expected a request id")
	}
}

func TestNewContextCookies(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	r.Header.Set("Cookie", "__Secure-session=abc; theme=dark")
	config := DefaultServerConfig()
	ctx, err := newContext(r, httptest.NewRecorder(), config, nil, newCookiePolicy(config))
	if err != nil {
		t.Fatalf("newContext: %v", err)
	}
	if ctx.Cookies["session"] != "abc" {
		t.Errorf("session = %q, want abc", ctx.Cookies["session"])
	}
	if ctx.Cookies["theme"] != "dark" {
		t.Errorf("theme = %q, want dark", ctx.Cookies["theme"])
	}
}

func TestNewContextMalformedCookieFails(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	r.Header.Set("Cookie", "broken")
	config := DefaultServerConfig()
	if _, err := newContext(r, httptest.NewRecorder(), config, nil, newCookiePolicy(config)); err == nil {
		t.Error("expected error for malformed cookie")
	}
}

func TestAbsoluteURLForwardedTrusted(t *testing.T) {
	trusted := newProxyMatcher([]string{"192.0.2.1"}, testLogger())

	r := httptest.NewRequest("GET", "http://internal:8080/page?x=1", nil)
	r.RemoteAddr = "192.0.2.1:4321"
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "app.example.com")

	u, err := absoluteURL(r, trusted)
	if err != nil {
		t.Fatalf("absoluteURL: %v", err)
	}
	if got := u.String(); got != "https://app.example.com/page?x=1" {
		t.Errorf("url = %q, want %q", got, "https://app.example.com/page?x=1")
	}
}

func TestAbsoluteURLForwardedUntrusted(t *testing.T) {
	trusted := newProxyMatcher([]string{"192.0.2.1"}, testLogger())

	r := httptest.NewRequest("GET", "http://internal:8080/page", nil)
	r.RemoteAddr = "203.0.113.9:4321"
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "evil.example.com")

	u, err := absoluteURL(r, trusted)
	if err != nil {
		t.Fatalf("absoluteURL: %v", err)
	}
	if got := u.String(); got != "http://internal:8080/page" {
		t.Errorf("url = %q, want forwarded headers ignored, got %q", got, got)
	}
}

func TestCheckCSRF(t *testing.T) {
	config := DefaultServerConfig()

	get := httptest.NewRequest("GET", "http://example.com/", nil)
	if err := checkCSRF(get, config); err != nil {
		t.Errorf("GET should be exempt, got %v", err)
	}

	// Only GET is exempt; every other method needs the header.
	for _, method := range []string{"POST", "PUT", "DELETE", "PATCH", "HEAD"} {
		r := httptest.NewRequest(method, "http://example.com/", nil)
		if err := checkCSRF(r, config); err != ErrCSRFRejected {
			t.Errorf("%s without header = %v, want ErrCSRFRejected", method, err)
		}
	}

	for _, value := range []string{"false", "0", "  "} {
		r := httptest.NewRequest("POST", "http://example.com/", nil)
		r.Header.Set(config.CSRFHeader, value)
		if err := checkCSRF(r, config); err != ErrCSRFRejected {
			t.Errorf("header %q = %v, want ErrCSRFRejected", value, err)
		}
	}

	ok := httptest.NewRequest("POST", "http://example.com/", nil)
	ok.Header.Set(config.CSRFHeader, "1")
	if err := checkCSRF(ok, config); err != nil {
		t.Errorf("truthy header = %v, want nil", err)
	}
}

func TestCheckCSRFExceptionPath(t *testing.T) {
	config := DefaultServerConfig()
	config.CSRFExceptionPath = regexp.MustCompile(`^/webhooks/`)

	r := httptest.NewRequest("POST", "http://example.com/webhooks/stripe", nil)
	if err := checkCSRF(r, config); err != nil {
		t.Errorf("exception path = %v, want nil", err)
	}

	other := httptest.NewRequest("POST", "http://example.com/api/things", nil)
	if err := checkCSRF(other, config); err != ErrCSRFRejected {
		t.Errorf("non-exception path = %v, want ErrCSRFRejected", err)
	}
}

func TestContextFieldHelpers(t *testing.T) {
	ctx, _ := newTestContext(t, "GET", "http://example.com/", nil)
	ctx.Fields["name"] = "leandro"
	ctx.Fields["tags"] = []string{"go", "http"}

	if got := ctx.Field("name"); got != "leandro" {
		t.Errorf("Field(name) = %q, want leandro", got)
	}
	if got := ctx.Field("tags"); got != "http" {
		t.Errorf("Field(tags) = %q, want last value http", got)
	}
	if got := ctx.Field("missing"); got != "" {
		t.Errorf("Field(missing) = %q, want empty", got)
	}
	if got := ctx.FieldValues("name"); len(got) != 1 || got[0] != "leandro" {
		t.Errorf("FieldValues(name) = %v", got)
	}
	if got := ctx.FieldValues("tags"); len(got) != 2 {
		t.Errorf("FieldValues(tags) = %v", got)
	}
	if got := ctx.FieldValues("missing"); got != nil {
		t.Errorf("FieldValues(missing) = %v, want nil", got)
	}
}

func TestContextFileHelpers(t *testing.T) {
	ctx, _ := newTestContext(t, "GET", "http://example.com/", nil)
	one := &FileRef{OriginalFilename: "a.png"}
	two := &FileRef{OriginalFilename: "b.png"}
	ctx.Files["avatar"] = one
	ctx.Files["photos"] = []*FileRef{one, two}

	if got := ctx.File("avatar"); got != one {
		t.Errorf("File(avatar) = %v, want %v", got, one)
	}
	if got := ctx.File("photos"); got != two {
		t.Errorf("File(photos) = %v, want last file", got)
	}
	if got := ctx.FileValues("photos"); len(got) != 2 {
		t.Errorf("FileValues(photos) = %v", got)
	}
	if got := ctx.File("missing"); got != nil {
		t.Errorf("File(missing) = %v, want nil", got)
	}
}

func TestResetPass(t *testing.T) {
	ctx, _ := newTestContext(t, "GET", "http://example.com/", nil)
	ctx.State["k"] = "v"
	ctx.Err = ErrCSRFRejected
	ctx.PathCaptures["id"] = "10"

	ctx.resetPass()

	if len(ctx.State) != 0 || ctx.Err != nil || len(ctx.PathCaptures) != 0 {
		t.Errorf("resetPass left state = %v, err = %v, captures = %v", ctx.State, ctx.Err, ctx.PathCaptures)
	}
}
