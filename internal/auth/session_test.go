package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	m := NewSessionManager(authConfig())

	w := httptest.NewRecorder()
	if err := m.Issue(w, 42); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}

	uid, ok := m.CurrentUserID(req)
	if !ok || uid != 42 {
		t.Fatalf("expected user 42, got %d (ok=%v)", uid, ok)
	}
}

func TestSessionRejectsTamperedCookie(t *testing.T) {
	m := NewSessionManager(authConfig())

	w := httptest.NewRecorder()
	if err := m.Issue(w, 42); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	cookie := w.Result().Cookies()[0]
	cookie.Value = cookie.Value[:len(cookie.Value)-3] + "abc"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	if _, ok := m.CurrentUserID(req); ok {
		t.Fatalf("tampered cookie must not authenticate")
	}
}

func TestSessionRejectsForeignSecret(t *testing.T) {
	issuer := NewSessionManager(authConfig())
	other := authConfig()
	other.Session.Secret = "ffffffffffffffffffffffffffffffff"
	verifier := NewSessionManager(other)

	w := httptest.NewRecorder()
	if err := issuer.Issue(w, 7); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}

	if _, ok := verifier.CurrentUserID(req); ok {
		t.Fatalf("session signed with another secret must not authenticate")
	}
}

func TestClearExpiresCookie(t *testing.T) {
	m := NewSessionManager(authConfig())

	w := httptest.NewRecorder()
	m.Clear(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	if cookies[0].Value != "" || cookies[0].Expires.Unix() != 0 {
		t.Fatalf("expected expired empty cookie, got %+v", cookies[0])
	}
}
