package worker

import (
	"strings"

	"github.com/Makar0n1/art-automation/config"
	"github.com/Makar0n1/art-automation/internal/pipeline"
	"github.com/Makar0n1/art-automation/internal/providers/llm"
	"github.com/Makar0n1/art-automation/internal/providers/search"
	"github.com/Makar0n1/art-automation/internal/providers/vector"
	"github.com/Makar0n1/art-automation/internal/vault"
	"github.com/Makar0n1/art-automation/models"
)

// providerClients is one principal's set of external provider clients,
// built fresh for every job per the "per-invocation construction, no
// global client state" design note.
type providerClients struct {
	search pipeline.SearchClient
	llm    pipeline.LLMClient
	vector pipeline.VectorClient
}

// buildProviderClients decrypts principal's stored credentials and
// constructs a client per provider. A client whose credential is absent
// or fails to decrypt is still returned, just unconfigured — the stage
// that needs it reports ErrMissingCredential when it runs.
func buildProviderClients(v *vault.Vault, principal models.Principal, providers config.ProvidersConfig) providerClients {
	searchKey := decryptCredential(v, principal, models.CredentialSearch)
	llmKey := decryptCredential(v, principal, models.CredentialLLM)
	vectorRaw := decryptCredential(v, principal, models.CredentialVector)

	vectorBaseURL, vectorKey := splitSupabaseCredential(vectorRaw)

	return providerClients{
		search: search.New(searchKey),
		llm:    llm.New(llmKey, providers.LLMModel),
		vector: vector.New(llmKey, providers.EmbeddingModel, vectorBaseURL, vectorKey),
	}
}

func decryptCredential(v *vault.Vault, principal models.Principal, kind models.CredentialKind) string {
	env, ok := principal.Credentials[kind]
	if !ok || env.Ciphertext == "" {
		return ""
	}
	plain, err := v.Decrypt(env.Ciphertext)
	if err != nil {
		return ""
	}
	return plain
}

// splitSupabaseCredential splits the stored supabase credential, which
// carries the project's REST base URL and its service-role key joined by
// "|" (there being no separate field on CredentialEnvelope for a second
// secret component).
func splitSupabaseCredential(raw string) (baseURL, apiKey string) {
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}
