package ensemble

import (
	"time"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
)

// ModelConfig identifies one model configuration participating in a turn:
// the provider client to call, the target model, and per-configuration
// behavior flags.
type ModelConfig struct {
	// ConfigurationID identifies this configuration in events and storage.
	ConfigurationID string

	// Provider is the client used for all of this configuration's calls.
	Provider provider.ChatProvider

	// Model is the upstream model name.
	Model string

	// DisplayName is the human-readable model name shown to clients.
	DisplayName string

	// Params are per-request parameter overrides for this turn.
	Params map[string]any

	// ToolsEnabled permits tool payload injection when the provider
	// supports tool calling.
	ToolsEnabled bool

	// KnowledgeBaseID scopes reference reconciliation; empty disables it
	// unless sources are attached.
	KnowledgeBaseID string

	// Sources are the retrieval sources used while assembling the prompt.
	Sources []api.SourceRef

	// Timeout is the caller-requested per-call timeout.
	Timeout time.Duration
}

// Variant is one participant in an ensemble turn: a model configuration
// plus its rendered conversation. Variants are constructed once before
// orchestration starts and are immutable during the run.
type Variant struct {
	// Index is the variant's position in the turn. The primary
	// configuration always holds the highest index (see BuildVariants).
	Index int

	Config ModelConfig

	// Messages is the rendered conversation context.
	Messages []api.Message

	// SystemPrompt is prepended by the adapter when non-empty.
	SystemPrompt string
}

// BuildVariants assembles the turn's variants from the primary
// configuration and any extra ensemble members. Extras occupy indexes
// 0..n-1 and the primary always receives the highest index; persistence
// lineage depends on this ordering (variant 0 seeds the reply group), so
// it is a fixed contract.
func BuildVariants(primary ModelConfig, extras []ModelConfig, messages []api.Message, systemPrompt string) []Variant {
	configs := make([]ModelConfig, 0, len(extras)+1)
	configs = append(configs, extras...)
	configs = append(configs, primary)

	variants := make([]Variant, len(configs))
	for i, cfg := range configs {
		variants[i] = Variant{
			Index:        i,
			Config:       cfg,
			Messages:     messages,
			SystemPrompt: systemPrompt,
		}
	}
	return variants
}
