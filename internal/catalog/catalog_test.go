package catalog

import (
	"errors"
	"testing"
)

func TestGetByIDAndAlias(t *testing.T) {
	c := New("claude-sonnet-4-20250514")

	model, ok := c.Get("claude-sonnet-4-20250514")
	if !ok || model.Provider != ProviderAnthropic {
		t.Fatalf("get by id: %+v, %v", model, ok)
	}

	aliased, ok := c.Get("Sonnet")
	if !ok || aliased.ID != model.ID {
		t.Errorf("alias lookup failed: %+v, %v", aliased, ok)
	}
}

func TestResolveOrDefaultFallsBack(t *testing.T) {
	c := New("claude-sonnet-4-20250514")

	model, err := c.ResolveOrDefault("model-that-never-existed")
	if err != nil {
		t.Fatalf("ResolveOrDefault: %v", err)
	}
	if model.ID != "claude-sonnet-4-20250514" {
		t.Errorf("fell back to %q", model.ID)
	}

	model, err = c.ResolveOrDefault("")
	if err != nil || model.ID != "claude-sonnet-4-20250514" {
		t.Errorf("empty id: %+v, %v", model, err)
	}
}

func TestResolveOrDefaultMissingDefault(t *testing.T) {
	c := New("also-not-a-model")
	_, err := c.ResolveOrDefault("nope")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestRegisterOverrides(t *testing.T) {
	c := New("custom")
	c.Register(&Model{
		ID: "custom", Name: "Custom", Provider: ProviderOpenAI,
		Tier: TierBYOK, Aliases: []string{"c"},
	})

	model, err := c.ResolveOrDefault("c")
	if err != nil || model.ID != "custom" {
		t.Fatalf("custom model: %+v, %v", model, err)
	}
}

func TestHasCapability(t *testing.T) {
	model, _ := New("x").Get("claude-sonnet-4-20250514")
	if !model.HasCapability(CapReasoning) {
		t.Error("sonnet should have reasoning")
	}
	if model.HasCapability(CapImageGen) {
		t.Error("sonnet should not have image generation")
	}
}

func TestListSorted(t *testing.T) {
	models := New("x").List()
	if len(models) == 0 {
		t.Fatal("no builtin models")
	}
	for i := 1; i < len(models); i++ {
		if models[i-1].ID >= models[i].ID {
			t.Fatalf("not sorted: %q before %q", models[i-1].ID, models[i].ID)
		}
	}
}
