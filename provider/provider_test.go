package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type scriptedBackend struct {
	structured string
}

func (s scriptedBackend) Generate(ctx context.Context, rolePrompt, convContext string) (string, error) {
	return "ok", nil
}

func (s scriptedBackend) GenerateStructured(ctx context.Context, prompt, schemaHint string) (json.RawMessage, error) {
	return json.RawMessage(s.structured), nil
}

func TestValidatedPassesThroughJSON(t *testing.T) {
	v := validated{scriptedBackend{structured: `{"destination": "Cancun"}`}}
	raw, err := v.GenerateStructured(context.Background(), "p", "s")
	if err != nil {
		t.Fatalf("expected valid JSON to pass, got %v", err)
	}
	if string(raw) != `{"destination": "Cancun"}` {
		t.Fatalf("unexpected payload %s", raw)
	}
}

func TestValidatedRejectsProse(t *testing.T) {
	v := validated{scriptedBackend{structured: "I think the group should go to Cancun."}}
	_, err := v.GenerateStructured(context.Background(), "p", "s")
	if err == nil {
		t.Fatalf("expected a parse error for prose output")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if !errors.Is(err, ErrParseFailure) {
		t.Fatalf("expected ErrParseFailure in chain")
	}
	if parseErr.RawExcerpt == "" {
		t.Fatalf("expected excerpt preserved")
	}
}
