package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/models"
)

// AuthHandler implements /api/auth/*: password login, token refresh,
// password/PIN rotation and the PIN-configured flag the settings UI polls.
type AuthHandler struct {
	Store   *store.Store
	Secret  []byte
	Auth    config.AuthConfig
	Vault   *vault.Vault
	Trusted bool
}

func (a *AuthHandler) register(g *echo.Group, protected *echo.Group) {
	g.POST("/auth/login", a.login)
	protected.GET("/auth/me", a.me)
	protected.POST("/auth/refresh", a.refresh)
	protected.PUT("/auth/password", a.rotatePassword)
	protected.PUT("/auth/pin", a.rotatePin)
	protected.GET("/auth/pin-status", a.pinStatus)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *AuthHandler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, "email and password are required")
	}

	principal, err := a.Store.GetPrincipalByEmail(c.Request().Context(), req.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return fail(c, http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.Password)) != nil {
		return fail(c, http.StatusUnauthorized, "invalid credentials")
	}

	token, err := signToken(a.Secret, principal.ID, a.Auth.TokenLifetime)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, map[string]string{"token": token})
}

func (a *AuthHandler) me(c echo.Context) error {
	principal, err := a.Store.GetPrincipalByID(c.Request().Context(), principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, principalView(principal))
}

func (a *AuthHandler) refresh(c echo.Context) error {
	token, err := signToken(a.Secret, principalID(c), a.Auth.TokenLifetime)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, map[string]string{"token": token})
}

type rotatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (a *AuthHandler) rotatePassword(c echo.Context) error {
	var req rotatePasswordRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < 8 {
		return fail(c, http.StatusBadRequest, "new password must be at least 8 characters")
	}

	ctx := c.Request().Context()
	principal, err := a.Store.GetPrincipalByID(ctx, principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.CurrentPassword)) != nil {
		return fail(c, http.StatusForbidden, "current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if err := a.Store.SetPassword(ctx, principal.ID, string(hash)); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return okMessage(c, http.StatusOK, "password updated")
}

type rotatePinRequest struct {
	Pin             string `json:"pin"`
	CurrentPin      string `json:"currentPin"`
	CurrentPassword string `json:"currentPassword"`
}

// rotatePin sets or clears the PIN. If one is already configured, the
// request must present it; otherwise it must present the account password,
// per spec.md's "requires current PIN if set, else password".
func (a *AuthHandler) rotatePin(c echo.Context) error {
	var req rotatePinRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Pin != "" && len(req.Pin) < 4 {
		return fail(c, http.StatusBadRequest, "pin must be at least 4 digits")
	}

	ctx := c.Request().Context()
	principal, err := a.Store.GetPrincipalByID(ctx, principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	if principal.HasPin {
		ip := clientIP(c.Request(), a.Trusted)
		matched, blocked, err := vault.VerifyPin(ctx, a.Store, ip, principal.ID, principal.PinHash, req.CurrentPin)
		if err != nil {
			return fail(c, http.StatusInternalServerError, err.Error())
		}
		if blocked {
			return failBlocked(c, http.StatusForbidden, "pin verification blocked, too many attempts", 0)
		}
		if !matched {
			return fail(c, http.StatusForbidden, "current pin is incorrect")
		}
	} else if bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.CurrentPassword)) != nil {
		return fail(c, http.StatusForbidden, "current password is incorrect")
	}

	var newHash string
	if req.Pin != "" {
		newHash, err = vault.HashPin(req.Pin)
		if err != nil {
			return fail(c, http.StatusInternalServerError, err.Error())
		}
	}
	if err := a.Store.SetPin(ctx, principal.ID, newHash); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return okMessage(c, http.StatusOK, "pin updated")
}

func (a *AuthHandler) pinStatus(c echo.Context) error {
	principal, err := a.Store.GetPrincipalByID(c.Request().Context(), principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, map[string]bool{"hasPinConfigured": principal.HasPin})
}

// principalView strips secret fields before a principal record leaves the
// process, keeping only credential validation status per kind.
type principalPublic struct {
	ID          string                                      `json:"id"`
	Email       string                                      `json:"email"`
	HasPin      bool                                        `json:"hasPinConfigured"`
	Credentials map[models.CredentialKind]credentialStatus `json:"credentials"`
	CreatedAt   time.Time                                   `json:"createdAt"`
}

type credentialStatus struct {
	Configured    bool       `json:"configured"`
	Validated     bool       `json:"validated"`
	LastValidated *time.Time `json:"lastValidated,omitempty"`
}

func principalView(p models.Principal) principalPublic {
	v := principalPublic{
		ID:          p.ID,
		Email:       p.Email,
		HasPin:      p.HasPin,
		CreatedAt:   p.CreatedAt,
		Credentials: map[models.CredentialKind]credentialStatus{},
	}
	for _, kind := range []models.CredentialKind{models.CredentialSearch, models.CredentialLLM, models.CredentialVector} {
		env, configured := p.Credentials[kind]
		v.Credentials[kind] = credentialStatus{
			Configured:    configured && env.Ciphertext != "",
			Validated:     env.Validated,
			LastValidated: env.LastValidated,
		}
	}
	return v
}
