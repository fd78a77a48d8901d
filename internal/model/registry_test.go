package model

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const sonnet = "claude-sonnet-4-5-20250929"

func TestResolveAliases(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), sonnet)
	cases := map[string]string{
		"cc-sonnet-45":               sonnet,
		"cc-haiku-45":                "claude-haiku-4-5-20251001",
		"claude-opus-4-6":            "claude-opus-4-6",
		"claude-3-7-sonnet-20250219": "claude-3-7-sonnet-20250219",
		" claude-opus-4-6 ":          "claude-opus-4-6",
	}
	for requested, want := range cases {
		if got := registry.Resolve(requested); got != want {
			t.Fatalf("resolve %q: expected %q, got %q", requested, want, got)
		}
	}
}

func TestResolveUnknownFallsBackAndWarns(t *testing.T) {
	var logs bytes.Buffer
	registry := NewRegistry(zerolog.New(&logs), "claude-opus-4-6")

	if got := registry.Resolve("gpt-4"); got != "claude-opus-4-6" {
		t.Fatalf("expected default model, got %q", got)
	}
	if !strings.Contains(logs.String(), `"model":"gpt-4"`) {
		t.Fatalf("expected warning naming the unknown model, got %q", logs.String())
	}
}

func TestRegisterAlias(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), sonnet)
	registry.RegisterAlias("fast", "claude-haiku-4-5-20251001")
	registry.RegisterAlias("cc-sonnet-45", "claude-sonnet-4-6")
	registry.RegisterAlias("", "x")

	if got := registry.Resolve("fast"); got != "claude-haiku-4-5-20251001" {
		t.Fatalf("expected configured alias, got %q", got)
	}
	if got := registry.Resolve("cc-sonnet-45"); got != "claude-sonnet-4-6" {
		t.Fatalf("expected override of built-in alias, got %q", got)
	}

	models := registry.List()
	if len(models) != 5 {
		t.Fatalf("expected 4 built-in models plus one alias, got %d", len(models))
	}
	if models[4].ID != "fast" {
		t.Fatalf("expected configured alias listed last, got %q", models[4].ID)
	}
}

func TestListAndGet(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), sonnet)
	models := registry.List()
	ids := make([]string, 0, len(models))
	for _, model := range models {
		if model.Object != "model" || model.OwnedBy != "anthropic" || model.Created != 1700000000 {
			t.Fatalf("unexpected model object %+v", model)
		}
		ids = append(ids, model.ID)
	}
	if got := strings.Join(ids, ","); got != "claude-opus-4-6,cc-sonnet-45,cc-haiku-45,claude-3-7-sonnet-20250219" {
		t.Fatalf("unexpected model list %s", got)
	}

	if _, ok := registry.Get("cc-haiku-45"); !ok {
		t.Fatalf("expected cc-haiku-45 to be found")
	}
	if _, ok := registry.Get("gpt-4"); ok {
		t.Fatalf("expected unknown model not found")
	}
}

func TestCapabilities(t *testing.T) {
	registry := NewRegistry(zerolog.Nop(), sonnet)
	capabilities := registry.Capabilities()
	if len(capabilities) != 4 {
		t.Fatalf("expected 4 capabilities, got %d", len(capabilities))
	}
	if capabilities[1].ID != "cc-sonnet-45" || capabilities[1].ResolvesTo != sonnet {
		t.Fatalf("unexpected capability %+v", capabilities[1])
	}
	if !capabilities[0].SupportsTools || !capabilities[0].SupportsStreaming {
		t.Fatalf("expected tools and streaming support")
	}
}
