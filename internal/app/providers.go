package app

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/singer-orchestrator/internal/config"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/embeddings"
	embeddingsollama "github.com/MrWong99/singer-orchestrator/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/MrWong99/singer-orchestrator/pkg/provider/embeddings/openai"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm"
	"github.com/MrWong99/singer-orchestrator/pkg/provider/llm/anyllm"
)

// newProviderRegistry returns a [config.Registry] with a factory registered
// for every provider name [config.ValidProviderNames] advertises, so any
// combination named in a deploy's YAML resolves without code changes.
func newProviderRegistry() *config.Registry {
	reg := config.NewRegistry()

	for _, name := range config.ValidProviderNames["llm"] {
		name := name
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embeddingsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embeddingsopenai.WithBaseURL(entry.BaseURL))
		}
		return embeddingsopenai.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsollama.New(entry.BaseURL, entry.Model)
	})

	return reg
}
