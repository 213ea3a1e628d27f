package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/commonscal/commonscal/internal/config"
	"github.com/commonscal/commonscal/internal/metrics"
	"github.com/commonscal/commonscal/internal/store"
)

// TokenTTL bounds how long an emailed login link stays valid.
const TokenTTL = 30 * time.Minute

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("login token invalid or expired")
)

// passphraseWords feeds the confirmation phrase shown on screen and repeated
// in the login email, so recipients can tell a genuine mail from phishing.
var passphraseWords = []string{
	"anchor", "bicycle", "candle", "dolphin", "ember", "forest",
	"garden", "harbor", "island", "jasmine", "kettle", "lantern",
	"meadow", "nutmeg", "orchard", "pebble", "quartz", "river",
	"saffron", "timber", "umbrella", "violet", "walnut", "zephyr",
}

// Service implements the passwordless email login flow plus optional
// password login for accounts that have set one.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	sessions *SessionManager
	mailer   Mailer
}

func NewService(cfg *config.Config, st *store.Store, sessions *SessionManager, mailer Mailer) *Service {
	return &Service{cfg: cfg, store: st, sessions: sessions, mailer: mailer}
}

func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// RequestLogin starts the email flow: it finds or creates the account,
// stores a fresh token, and mails a signed login link plus a passphrase the
// user can type instead of clicking. The returned uuid addresses the
// passphrase form; it proves nothing on its own.
//
// An account is created on first sight so the calendar never reveals which
// addresses are registered.
func (s *Service) RequestLogin(ctx context.Context, email, lang string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}

	user, err := s.store.Users.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.store.Users.Create(ctx, email, "")
	}
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	if user.Deactivated {
		return "", ErrInvalidCredentials
	}

	tokenUUID := uuid.NewString()
	passphrase, err := generatePassphrase()
	if err != nil {
		return "", fmt.Errorf("generate passphrase: %w", err)
	}
	expiry := time.Now().Add(TokenTTL)
	if err := s.store.Users.SetLoginToken(ctx, user.ID, tokenUUID, passphrase, expiry); err != nil {
		return "", fmt.Errorf("store login token: %w", err)
	}

	link, err := s.loginLink(tokenUUID, lang, expiry)
	if err != nil {
		return "", err
	}
	body := fmt.Sprintf(
		"Hello,\n\nUse this link to log in:\n\n%s\n\nOr type this passphrase into the form on the page you came from:\n\n    %s\n\nBoth expire in %d minutes. If you did not request this, ignore this mail.\n",
		link, passphrase, int(TokenTTL.Minutes()))
	if err := s.mailer.Send(ctx, user.Email, "Your login link", body); err != nil {
		return "", fmt.Errorf("send login email: %w", err)
	}
	metrics.RecordLoginEmail()
	return tokenUUID, nil
}

// CompleteLogin redeems an emailed link. The token is single-use: it is
// cleared the moment it succeeds.
func (s *Service) CompleteLogin(ctx context.Context, tokenString string) (*store.User, error) {
	tokenUUID, err := s.parseLoginToken(tokenString)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := s.store.Users.GetByTokenUUID(ctx, tokenUUID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("look up login token: %w", err)
	}
	if user.Deactivated {
		return nil, ErrTokenInvalid
	}

	if err := s.store.Users.ClearLoginToken(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("clear login token: %w", err)
	}
	return user, nil
}

// CompleteLoginWithPassphrase redeems a token by its uuid plus the
// confirmation phrase typed by hand, for users who cannot click the link.
func (s *Service) CompleteLoginWithPassphrase(ctx context.Context, tokenUUID, passphrase string) (*store.User, error) {
	user, err := s.store.Users.GetByTokenUUID(ctx, tokenUUID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("look up login token: %w", err)
	}
	if user.Deactivated || user.TokenPassphrase == nil {
		return nil, ErrTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(*user.TokenPassphrase), []byte(strings.TrimSpace(passphrase))) != 1 {
		return nil, ErrTokenInvalid
	}

	if err := s.store.Users.ClearLoginToken(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("clear login token: %w", err)
	}
	return user, nil
}

// PasswordLogin checks a password for accounts that have set one.
func (s *Service) PasswordLogin(ctx context.Context, email, password string) (*store.User, error) {
	user, err := s.store.Users.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up account: %w", err)
	}
	if user.Deactivated || user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// SetPassword hashes and stores a password for an account.
func (s *Service) SetPassword(ctx context.Context, userID int64, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password too short", ErrInvalidCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.Users.SetPassword(ctx, userID, string(hash))
}

// LoadUser resolves the session cookie into a user on the request context.
// Requests without a valid session pass through anonymously.
func (s *Service) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, ok := s.sessions.CurrentUserID(r); ok {
			if user, err := s.store.Users.GetByID(r.Context(), uid); err == nil && !user.Deactivated {
				r = r.WithContext(WithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser redirects anonymous requests to the login page of the
// request's locale.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			locale := chi.URLParam(r, "locale")
			if !s.cfg.IsLanguage(locale) {
				locale = s.cfg.Languages[0]
			}
			http.Redirect(w, r, "/"+locale+"/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff rejects non-staff users. It assumes RequireUser ran first.
func (s *Service) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.IsStaff {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loginLink wraps the token uuid in a signed JWT so the emailed URL cannot
// be forged or extended.
func (s *Service) loginLink(tokenUUID, lang string, expiry time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   tokenUUID,
		ExpiresAt: jwt.NewNumericDate(expiry),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Session.Secret))
	if err != nil {
		return "", fmt.Errorf("sign login token: %w", err)
	}
	if !s.cfg.IsLanguage(lang) {
		lang = s.cfg.Languages[0]
	}
	return fmt.Sprintf("%s/%s/auth/confirm/%s", strings.TrimRight(s.cfg.BaseURL, "/"), lang, signed), nil
}

func (s *Service) parseLoginToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Session.Secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrTokenInvalid
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

func generatePassphrase() (string, error) {
	words := make([]string, 3)
	for i := range words {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passphraseWords))))
		if err != nil {
			return "", err
		}
		words[i] = passphraseWords[n.Int64()]
	}
	return strings.Join(words, " "), nil
}
