// Package llm talks to chat-completion backends. A model id selects its backend
// family by prefix; the Registry maps each family to an injected Completer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownBackend = errors.New("unknown model backend")

type Backend string

const (
	OpenAI     Backend = "openai"
	Anthropic  Backend = "anthropic"
	Mistral    Backend = "mistral"
	DeepSeek   Backend = "deepseek"
	OpenRouter Backend = "openrouter"
	Ollama     Backend = "ollama"
)

// BackendFor maps a model id onto its provider family.
func BackendFor(model string) (Backend, error) {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "openrouter/"):
		return OpenRouter, nil
	case strings.HasPrefix(m, "ollama/"):
		return Ollama, nil
	case strings.HasPrefix(m, "gpt"):
		return OpenAI, nil
	case strings.HasPrefix(m, "claude"):
		return Anthropic, nil
	case strings.HasPrefix(m, "mistral"):
		return Mistral, nil
	case strings.HasPrefix(m, "deepseek"):
		return DeepSeek, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownBackend, model)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	// MaxTokens caps the response. Zero leaves the provider default in place.
	MaxTokens int
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Registry dispatches requests to the Completer registered for the model's backend.
type Registry struct {
	clients map[Backend]Completer
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[Backend]Completer)}
}

func (r *Registry) Register(b Backend, c Completer) {
	r.clients[b] = c
}

// Resolve validates a model id and returns its Completer. Call it at
// configuration time so an unusable model fails before any network call.
func (r *Registry) Resolve(model string) (Completer, error) {
	b, err := BackendFor(model)
	if err != nil {
		return nil, err
	}
	c, ok := r.clients[b]
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for %s (model %s, registered: %v)", ErrUnknownBackend, b, model, r.Backends())
	}
	return c, nil
}

func (r *Registry) Complete(ctx context.Context, req Request) (string, error) {
	c, err := r.Resolve(req.Model)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, req)
}

// Backends lists the registered families in name order.
func (r *Registry) Backends() []Backend {
	out := make([]Backend, 0, len(r.clients))
	for b := range r.clients {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
