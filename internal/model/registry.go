package model

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/openai"
)

const (
	// Names with this prefix are passed to the CLI unchanged.
	claudePrefix = "claude-"
	ownedBy      = "anthropic"
	modelCreated = 1700000000
)

var builtinAliases = map[string]string{
	"cc-sonnet-45": "claude-sonnet-4-5-20250929",
	"cc-haiku-45":  "claude-haiku-4-5-20251001",
}

var builtinModels = []string{
	"claude-opus-4-6",
	"cc-sonnet-45",
	"cc-haiku-45",
	"claude-3-7-sonnet-20250219",
}

type Capability struct {
	openai.Model
	ResolvesTo        string `json:"resolves_to"`
	SupportsStreaming bool   `json:"supports_streaming"`
	SupportsTools     bool   `json:"supports_tools"`
	SupportsImages    bool   `json:"supports_images"`
}

// Registry maps requested model names onto CLI model names.
type Registry struct {
	logger       zerolog.Logger
	defaultModel string

	mu      sync.RWMutex
	aliases map[string]string
	extra   []string
}

func NewRegistry(logger zerolog.Logger, defaultModel string) *Registry {
	r := &Registry{
		logger:       logger.With().Str("component", "model_registry").Logger(),
		defaultModel: strings.TrimSpace(defaultModel),
		aliases:      make(map[string]string, len(builtinAliases)),
	}
	for alias, target := range builtinAliases {
		r.aliases[alias] = target
	}
	return r
}

// RegisterAlias adds or replaces an alias. Aliases that are not built in are
// also listed by List.
func (r *Registry) RegisterAlias(alias, target string) {
	if r == nil {
		return
	}
	alias = strings.TrimSpace(alias)
	target = strings.TrimSpace(target)
	if alias == "" || target == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.aliases[alias]; !exists && !isBuiltinModel(alias) {
		r.extra = append(r.extra, alias)
		sort.Strings(r.extra)
	}
	r.aliases[alias] = target
}

func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Resolve returns the CLI model for name: aliases first, then claude-
// prefixed names unchanged, otherwise the default model.
func (r *Registry) Resolve(name string) string {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	target, ok := r.aliases[name]
	r.mu.RUnlock()
	if ok {
		return target
	}
	if strings.HasPrefix(name, claudePrefix) {
		return name
	}

	r.logger.Warn().Str("model", name).Str("fallback", r.defaultModel).Msg("unknown model, using default")
	return r.defaultModel
}

func (r *Registry) List() []openai.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]openai.Model, 0, len(builtinModels)+len(r.extra))
	for _, id := range builtinModels {
		models = append(models, modelObject(id))
	}
	for _, id := range r.extra {
		models = append(models, modelObject(id))
	}
	return models
}

func (r *Registry) Get(id string) (openai.Model, bool) {
	for _, model := range r.List() {
		if model.ID == id {
			return model, true
		}
	}
	return openai.Model{}, false
}

func (r *Registry) Capabilities() []Capability {
	models := r.List()
	capabilities := make([]Capability, 0, len(models))
	for _, model := range models {
		capabilities = append(capabilities, Capability{
			Model:             model,
			ResolvesTo:        r.Resolve(model.ID),
			SupportsStreaming: true,
			SupportsTools:     true,
			SupportsImages:    true,
		})
	}
	return capabilities
}

func modelObject(id string) openai.Model {
	return openai.Model{
		ID:      id,
		Object:  openai.ObjectModel,
		Created: modelCreated,
		OwnedBy: ownedBy,
	}
}

func isBuiltinModel(id string) bool {
	for _, builtin := range builtinModels {
		if builtin == id {
			return true
		}
	}
	return false
}
