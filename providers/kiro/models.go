// Package kiro implements a chat provider backed by the Kiro
// (CodeWhisperer) generateAssistantResponse API.
package kiro

import (
	"sort"
	"strings"

	"github.com/erikhoward/kirogw/core"
)

// Public model names accepted by the gateway.
const (
	ModelAuto           core.ModelID = "auto"
	ModelClaudeOpus45   core.ModelID = "claude-opus-4.5"
	ModelClaudeSonnet45 core.ModelID = "claude-sonnet-4.5"
	ModelClaudeSonnet4  core.ModelID = "claude-sonnet-4"
	ModelClaudeHaiku45  core.ModelID = "claude-haiku-4.5"
)

// DefaultModelMap maps public model names to backend model ids. Prefixed
// aliases are accepted for clients configured for other proxies.
func DefaultModelMap() map[string]string {
	m := map[string]string{}
	for _, id := range []core.ModelID{ModelAuto, ModelClaudeOpus45, ModelClaudeSonnet45, ModelClaudeSonnet4, ModelClaudeHaiku45} {
		m[string(id)] = string(id)
		m["kiro-"+string(id)] = string(id)
		m["amazonq-"+string(id)] = string(id)
	}
	m["claude-sonnet-4-5"] = string(ModelClaudeSonnet45)
	m["claude-opus-4-5"] = string(ModelClaudeOpus45)
	m["claude-haiku-4-5"] = string(ModelClaudeHaiku45)
	return m
}

// Resolution is the result of resolving a public model name.
type Resolution struct {
	ModelID    string
	ProfileARN string
}

// Resolver maps a public model name to a backend model and routing profile.
type Resolver interface {
	Resolve(model core.ModelID) (Resolution, error)
}

// StaticResolver resolves names from a fixed table. Unknown names fall back
// to Fallback when it is set and fail with core.ErrNotFound otherwise.
type StaticResolver struct {
	Models     map[string]string
	ProfileARN string
	Fallback   string
}

// NewStaticResolver builds a resolver over models, falling back to "auto".
func NewStaticResolver(models map[string]string, profileARN string) *StaticResolver {
	if len(models) == 0 {
		models = DefaultModelMap()
	}
	return &StaticResolver{Models: models, ProfileARN: profileARN, Fallback: string(ModelAuto)}
}

func (r *StaticResolver) Resolve(model core.ModelID) (Resolution, error) {
	name := strings.TrimSpace(string(model))
	if id, ok := r.Models[name]; ok {
		return Resolution{ModelID: id, ProfileARN: r.ProfileARN}, nil
	}
	if id, ok := r.Models[strings.ToLower(name)]; ok {
		return Resolution{ModelID: id, ProfileARN: r.ProfileARN}, nil
	}
	if r.Fallback != "" {
		return Resolution{ModelID: r.Fallback, ProfileARN: r.ProfileARN}, nil
	}
	return Resolution{}, &core.ProviderError{
		Provider: providerID,
		Code:     "model_not_found",
		Message:  "unknown model " + name,
		Err:      core.ErrNotFound,
	}
}

// List returns the public names in sorted order.
func (r *StaticResolver) List() []core.ModelInfo {
	names := make([]string, 0, len(r.Models))
	for name := range r.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]core.ModelInfo, 0, len(names))
	for _, name := range names {
		out = append(out, core.ModelInfo{
			ID:           core.ModelID(name),
			DisplayName:  r.Models[name],
			Capabilities: []core.Feature{core.FeatureChat, core.FeatureChatStreaming, core.FeatureToolCalling},
		})
	}
	return out
}
