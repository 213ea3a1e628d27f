package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/commonscal/commonscal/internal/config"
	"github.com/commonscal/commonscal/internal/store"
)

type fakeUsers struct {
	byID    map[int64]*store.User
	nextID  int64
	created []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int64]*store.User{}, nextID: 1}
}

func (f *fakeUsers) add(u store.User) *store.User {
	u.ID = f.nextID
	f.nextID++
	f.byID[u.ID] = &u
	return &u
}

func (f *fakeUsers) Create(ctx context.Context, email, nick string) (*store.User, error) {
	f.created = append(f.created, email)
	return f.add(store.User{Email: email, Nick: nick}), nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id int64) (*store.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) GetByTokenUUID(ctx context.Context, tokenUUID string) (*store.User, error) {
	for _, u := range f.byID {
		if u.TokenUUID != nil && *u.TokenUUID == tokenUUID &&
			u.TokenExpiry != nil && u.TokenExpiry.After(time.Now()) {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) SetLoginToken(ctx context.Context, id int64, tokenUUID, passphrase string, expiry time.Time) error {
	u, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.TokenUUID = &tokenUUID
	u.TokenPassphrase = &passphrase
	u.TokenExpiry = &expiry
	return nil
}

func (f *fakeUsers) ClearLoginToken(ctx context.Context, id int64) error {
	u, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.TokenUUID = nil
	u.TokenPassphrase = nil
	u.TokenExpiry = nil
	return nil
}

func (f *fakeUsers) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	u, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = &passwordHash
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type captureMailer struct {
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func authConfig() *config.Config {
	cfg := &config.Config{
		BaseURL:   "http://localhost:8080",
		Languages: []string{"en", "da"},
	}
	cfg.Session.Secret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func newTestService(users *fakeUsers, mailer *captureMailer) *Service {
	cfg := authConfig()
	st := &store.Store{Users: users}
	return NewService(cfg, st, NewSessionManager(cfg), mailer)
}

func linkFromMail(t *testing.T, body string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			return line
		}
	}
	t.Fatalf("no login link in mail body:\n%s", body)
	return ""
}

func TestRequestLoginCreatesAccountAndSendsLink(t *testing.T) {
	users := newFakeUsers()
	mailer := &captureMailer{}
	svc := newTestService(users, mailer)

	tokenUUID, err := svc.RequestLogin(context.Background(), "Someone@Example.org", "en")
	if err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	if len(users.created) != 1 || users.created[0] != "someone@example.org" {
		t.Fatalf("expected account created with normalized email, got %v", users.created)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mailer.sent))
	}
	mail := mailer.sent[0]
	if mail.to != "someone@example.org" {
		t.Fatalf("mail sent to %q", mail.to)
	}

	user, _ := users.GetByEmail(context.Background(), "someone@example.org")
	if user.TokenUUID == nil || *user.TokenUUID != tokenUUID {
		t.Fatalf("returned uuid must match the stored token")
	}
	if user.TokenPassphrase == nil {
		t.Fatal("no passphrase stored")
	}
	if len(strings.Fields(*user.TokenPassphrase)) != 3 {
		t.Fatalf("expected a three-word passphrase, got %q", *user.TokenPassphrase)
	}
	if !strings.Contains(mail.body, *user.TokenPassphrase) {
		t.Fatalf("mail must contain the passphrase")
	}
	link := linkFromMail(t, mail.body)
	if !strings.Contains(link, "/en/auth/confirm/") {
		t.Fatalf("unexpected link %q", link)
	}
}

func TestLoginLinkRoundTrip(t *testing.T) {
	users := newFakeUsers()
	mailer := &captureMailer{}
	svc := newTestService(users, mailer)

	if _, err := svc.RequestLogin(context.Background(), "a@example.org", "en"); err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	link := linkFromMail(t, mailer.sent[0].body)
	token := link[strings.LastIndex(link, "/")+1:]

	user, err := svc.CompleteLogin(context.Background(), token)
	if err != nil {
		t.Fatalf("CompleteLogin: %v", err)
	}
	if user.Email != "a@example.org" {
		t.Fatalf("wrong user %q", user.Email)
	}

	// The token is single-use.
	if _, err := svc.CompleteLogin(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on reuse, got %v", err)
	}
}

func TestPassphraseRedemption(t *testing.T) {
	users := newFakeUsers()
	mailer := &captureMailer{}
	svc := newTestService(users, mailer)

	tokenUUID, err := svc.RequestLogin(context.Background(), "a@example.org", "en")
	if err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	user, _ := users.GetByEmail(context.Background(), "a@example.org")
	passphrase := *user.TokenPassphrase

	if _, err := svc.CompleteLoginWithPassphrase(context.Background(), tokenUUID, "wrong words here"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong passphrase, got %v", err)
	}

	got, err := svc.CompleteLoginWithPassphrase(context.Background(), tokenUUID, " "+passphrase+" ")
	if err != nil {
		t.Fatalf("CompleteLoginWithPassphrase: %v", err)
	}
	if got.Email != "a@example.org" {
		t.Fatalf("wrong user %q", got.Email)
	}
	if users.byID[got.ID].TokenUUID != nil {
		t.Fatalf("token must be cleared after redemption")
	}
}

func TestCompleteLoginRejectsTamperedToken(t *testing.T) {
	users := newFakeUsers()
	mailer := &captureMailer{}
	svc := newTestService(users, mailer)

	if _, err := svc.RequestLogin(context.Background(), "a@example.org", "en"); err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	link := linkFromMail(t, mailer.sent[0].body)
	token := link[strings.LastIndex(link, "/")+1:]
	tampered := token[:len(token)-2] + "xx"

	if _, err := svc.CompleteLogin(context.Background(), tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRequestLoginRejectsMalformedEmail(t *testing.T) {
	svc := newTestService(newFakeUsers(), &captureMailer{})
	if _, err := svc.RequestLogin(context.Background(), "not-an-email", "en"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRequestLoginRejectsDeactivatedAccount(t *testing.T) {
	users := newFakeUsers()
	users.add(store.User{Email: "gone@example.org", Deactivated: true})
	svc := newTestService(users, &captureMailer{})

	if _, err := svc.RequestLogin(context.Background(), "gone@example.org", "en"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestPasswordLogin(t *testing.T) {
	users := newFakeUsers()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	hashStr := string(hash)
	users.add(store.User{Email: "p@example.org", PasswordHash: &hashStr})
	users.add(store.User{Email: "nopass@example.org"})
	svc := newTestService(users, &captureMailer{})

	if _, err := svc.PasswordLogin(context.Background(), "p@example.org", "hunter2hunter2"); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
	if _, err := svc.PasswordLogin(context.Background(), "p@example.org", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.PasswordLogin(context.Background(), "nopass@example.org", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for passwordless account, got %v", err)
	}
	if _, err := svc.PasswordLogin(context.Background(), "missing@example.org", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown account, got %v", err)
	}
}

func TestSetPasswordEnforcesMinimumLength(t *testing.T) {
	users := newFakeUsers()
	u := users.add(store.User{Email: "p@example.org"})
	svc := newTestService(users, &captureMailer{})

	if err := svc.SetPassword(context.Background(), u.ID, "short"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.SetPassword(context.Background(), u.ID, "long enough now"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if users.byID[u.ID].PasswordHash == nil {
		t.Fatalf("password hash not stored")
	}
}

func TestRequireUserRedirectsAnonymous(t *testing.T) {
	svc := newTestService(newFakeUsers(), &captureMailer{})
	handler := svc.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for anonymous request")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/en/dashboard", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/en/login" {
		t.Fatalf("expected redirect to login, got %q", loc)
	}
}

func TestRequireStaffBlocksRegularUsers(t *testing.T) {
	svc := newTestService(newFakeUsers(), &captureMailer{})
	handler := svc.RequireStaff(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/en/admin", nil)
	req = req.WithContext(WithUser(req.Context(), &store.User{ID: 1}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-staff, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/en/admin", nil)
	req = req.WithContext(WithUser(req.Context(), &store.User{ID: 2, IsStaff: true}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff, got %d", w.Code)
	}
}

func TestLoadUserPopulatesContext(t *testing.T) {
	users := newFakeUsers()
	u := users.add(store.User{Email: "s@example.org"})
	svc := newTestService(users, &captureMailer{})

	issue := httptest.NewRecorder()
	if err := svc.Sessions().Issue(issue, u.ID); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var seen *store.User
	handler := svc.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/en/", nil)
	for _, c := range issue.Result().Cookies() {
		req.AddCookie(c)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil || seen.ID != u.ID {
		t.Fatalf("expected user %d in context, got %+v", u.ID, seen)
	}
}
