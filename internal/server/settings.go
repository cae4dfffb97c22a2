package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/providers/llm"
	"github.com/Makar0n1/art-automation/internal/providers/search"
	"github.com/Makar0n1/art-automation/internal/providers/vector"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/models"
)

// SettingsHandler implements /api/settings/api-keys: masked display,
// PIN-gated verification, credential storage and per-provider connectivity
// tests backed directly by each provider client's Ping.
type SettingsHandler struct {
	Store     *store.Store
	Vault     *vault.Vault
	Providers config.ProvidersConfig
	Trusted   bool
}

func (s *SettingsHandler) register(g *echo.Group) {
	g.GET("/settings/api-keys", s.listMasked)
	g.GET("/settings/api-keys/masked", s.listMasked)
	g.POST("/settings/api-keys/verify-pin", s.verifyPin)
	g.PUT("/settings/api-keys/:provider", s.setCredential)
	g.POST("/settings/api-keys/:provider/test", s.testCredential)
}

var credentialKindByProvider = map[string]models.CredentialKind{
	"firecrawl":  models.CredentialSearch,
	"openrouter": models.CredentialLLM,
	"supabase":   models.CredentialVector,
}

type maskedCredential struct {
	Configured    bool       `json:"configured"`
	Masked        string     `json:"masked,omitempty"`
	Validated     bool       `json:"validated"`
	LastValidated *time.Time `json:"lastValidated,omitempty"`
}

func (s *SettingsHandler) listMasked(c echo.Context) error {
	ctx := c.Request().Context()
	principal, err := s.Store.GetPrincipalByID(ctx, principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	out := map[string]maskedCredential{}
	for provider, kind := range credentialKindByProvider {
		env, ok := principal.Credentials[kind]
		if !ok || env.Ciphertext == "" {
			out[provider] = maskedCredential{}
			continue
		}
		plain, err := s.Vault.Decrypt(env.Ciphertext)
		masked := ""
		if err == nil {
			masked = vault.Mask(plain)
		}
		out[provider] = maskedCredential{
			Configured:    true,
			Masked:        masked,
			Validated:     env.Validated,
			LastValidated: env.LastValidated,
		}
	}
	return ok(c, http.StatusOK, out)
}

type verifyPinRequest struct {
	Pin string `json:"pin"`
}

func (s *SettingsHandler) verifyPin(c echo.Context) error {
	var req verifyPinRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	principal, err := s.Store.GetPrincipalByID(ctx, principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if !principal.HasPin {
		return okMessage(c, http.StatusOK, "no pin configured")
	}

	ip := clientIP(c.Request(), s.Trusted)
	matched, blocked, err := vault.VerifyPin(ctx, s.Store, ip, principal.ID, principal.PinHash, req.Pin)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if blocked {
		return failBlocked(c, http.StatusForbidden, "pin verification blocked, too many attempts", 0)
	}
	if !matched {
		return failBlocked(c, http.StatusForbidden, "incorrect pin", vault.MaxPinAttempts)
	}
	return okMessage(c, http.StatusOK, "pin verified")
}

type setCredentialRequest struct {
	Value string `json:"value"`
	Pin   string `json:"pin"`
}

// setCredential stores one provider credential, requiring the principal's
// PIN if one is configured, per spec.md's "requires PIN if set".
func (s *SettingsHandler) setCredential(c echo.Context) error {
	kind, ok := credentialKindByProvider[c.Param("provider")]
	if !ok {
		return fail(c, http.StatusBadRequest, "unknown provider")
	}
	var req setCredentialRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Value == "" {
		return fail(c, http.StatusBadRequest, "value is required")
	}

	ctx := c.Request().Context()
	principal, err := s.Store.GetPrincipalByID(ctx, principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	if principal.HasPin {
		ip := clientIP(c.Request(), s.Trusted)
		matched, blocked, err := vault.VerifyPin(ctx, s.Store, ip, principal.ID, principal.PinHash, req.Pin)
		if err != nil {
			return fail(c, http.StatusInternalServerError, err.Error())
		}
		if blocked {
			return failBlocked(c, http.StatusForbidden, "pin verification blocked, too many attempts", 0)
		}
		if !matched {
			return fail(c, http.StatusForbidden, "incorrect pin")
		}
	}

	ciphertext, err := s.Vault.Encrypt(req.Value)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	env := models.CredentialEnvelope{Ciphertext: ciphertext}
	if err := s.Store.SetCredential(ctx, principal.ID, kind, env); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return okMessage(c, http.StatusOK, "credential saved")
}

// testCredential calls the stored credential's provider-native ping and
// persists the resulting validity, per spec.md's "/test" contract.
func (s *SettingsHandler) testCredential(c echo.Context) error {
	provider := c.Param("provider")
	kind, ok := credentialKindByProvider[provider]
	if !ok {
		return fail(c, http.StatusBadRequest, "unknown provider")
	}

	ctx := c.Request().Context()
	principal, err := s.Store.GetPrincipalByID(ctx, principalID(c))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	env, configured := principal.Credentials[kind]
	if !configured || env.Ciphertext == "" {
		return fail(c, http.StatusBadRequest, "credential not configured")
	}
	plain, err := s.Vault.Decrypt(env.Ciphertext)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	var pingErr error
	switch provider {
	case "firecrawl":
		pingErr = search.New(plain).Ping(ctx)
	case "openrouter":
		pingErr = llm.New(plain, s.Providers.LLMModel).Ping(ctx)
	case "supabase":
		llmEnv, hasLLM := principal.Credentials[models.CredentialLLM]
		llmKey := ""
		if hasLLM && llmEnv.Ciphertext != "" {
			llmKey, _ = s.Vault.Decrypt(llmEnv.Ciphertext)
		}
		baseURL, storeKey := splitSupabaseCredential(plain)
		pingErr = vector.New(llmKey, s.Providers.EmbeddingModel, baseURL, storeKey).Ping(ctx)
	}

	now := time.Now()
	env.Validated = pingErr == nil
	env.LastValidated = &now
	if err := s.Store.SetCredential(ctx, principal.ID, kind, env); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if pingErr != nil {
		return fail(c, http.StatusOK, pingErr.Error())
	}
	return okMessage(c, http.StatusOK, "credential is valid")
}

// splitSupabaseCredential is shared with internal/worker/clients.go: the
// stored supabase credential carries the project's REST base URL and its
// service-role key joined by "|".
func splitSupabaseCredential(raw string) (baseURL, apiKey string) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '|' {
			return raw[:i], raw[i+1:]
		}
	}
	return "", ""
}
