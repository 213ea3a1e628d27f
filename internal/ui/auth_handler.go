package ui

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/commonscal/commonscal/internal/auth"
	"github.com/commonscal/commonscal/internal/http/errors"
)

// LoginPage shows the password form and the email-link request form.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	data := h.baseData(r, "Log in")
	data["Email"] = ""
	h.render(w, r, "login.html", data)
}

// PasswordLogin handles the classic email+password form.
func (h *Handler) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	user, err := h.auth.PasswordLogin(r.Context(), email, password)
	if stderrors.Is(err, auth.ErrInvalidCredentials) {
		data := h.baseData(r, "Log in")
		data["FlashError"] = "Wrong email or password."
		data["Email"] = email
		h.render(w, r, "login.html", data)
		return
	}
	if err != nil {
		errors.InternalError(w, r, err, "password login")
		return
	}

	if err := h.auth.Sessions().Issue(w, user.ID); err != nil {
		errors.InternalError(w, r, err, "issue session")
		return
	}
	h.redirect(w, r, h.localePath(r, "/dashboard"), nil)
}

// EmailLogin starts the passwordless flow and shows the passphrase form.
// The page looks the same whether or not the address maps to a usable
// account, so it leaks nothing.
func (h *Handler) EmailLogin(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	email := strings.TrimSpace(r.PostFormValue("email"))

	tokenUUID, err := h.auth.RequestLogin(r.Context(), email, h.lang(r))
	if stderrors.Is(err, auth.ErrInvalidCredentials) {
		if !strings.Contains(email, "@") {
			data := h.baseData(r, "Log in")
			data["FlashError"] = "Enter a valid email address."
			data["Email"] = email
			h.render(w, r, "login.html", data)
			return
		}
		// Deactivated account: show the normal page with a decoy token.
		tokenUUID = uuid.NewString()
	} else if err != nil {
		errors.InternalError(w, r, err, "request login email")
		return
	}

	data := h.baseData(r, "Check your email")
	data["TokenUUID"] = tokenUUID
	h.render(w, r, "email_sent.html", data)
}

// ConfirmToken redeems the emailed link and starts a session.
func (h *Handler) ConfirmToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	user, err := h.auth.CompleteLogin(r.Context(), token)
	if stderrors.Is(err, auth.ErrTokenInvalid) {
		h.redirect(w, r, h.localePath(r, "/login"),
			map[string]string{"error": "That login link is invalid or has expired. Request a new one."})
		return
	}
	if err != nil {
		errors.InternalError(w, r, err, "confirm login token")
		return
	}

	if err := h.auth.Sessions().Issue(w, user.ID); err != nil {
		errors.InternalError(w, r, err, "issue session")
		return
	}
	h.redirect(w, r, h.localePath(r, "/dashboard"), map[string]string{"status": "You are logged in."})
}

// PassphraseLogin redeems the typed passphrase as an alternative to the
// link.
func (h *Handler) PassphraseLogin(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	tokenUUID := chi.URLParam(r, "uuid")
	passphrase := r.PostFormValue("passphrase")

	user, err := h.auth.CompleteLoginWithPassphrase(r.Context(), tokenUUID, passphrase)
	if stderrors.Is(err, auth.ErrTokenInvalid) {
		data := h.baseData(r, "Check your email")
		data["TokenUUID"] = tokenUUID
		data["FlashError"] = "That passphrase did not match. Check the email and try again."
		h.render(w, r, "email_sent.html", data)
		return
	}
	if err != nil {
		errors.InternalError(w, r, err, "passphrase login")
		return
	}

	if err := h.auth.Sessions().Issue(w, user.ID); err != nil {
		errors.InternalError(w, r, err, "issue session")
		return
	}
	h.redirect(w, r, h.localePath(r, "/dashboard"), map[string]string{"status": "You are logged in."})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Sessions().Clear(w)
	h.redirect(w, r, h.localePath(r, "/"), nil)
}
