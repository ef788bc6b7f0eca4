package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/caravanhq/caravan/config"
	gemini_provider "github.com/caravanhq/caravan/provider/gemini"
	openai_provider "github.com/caravanhq/caravan/provider/openai"
)

// Backend identifies an LLM backend
type Backend string

const (
	OpenAI Backend = "openai"
	Gemini Backend = "gemini"
)

// ErrParseFailure wraps a structured generation whose output was not valid
// JSON. Callers distinguish it from transport failures.
var ErrParseFailure = errors.New("structured output parse failure")

// ParseError carries an excerpt of the malformed output for diagnostics.
type ParseError struct {
	RawExcerpt string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("structured output parse failure: %q", e.RawExcerpt)
}

func (e *ParseError) Unwrap() error { return ErrParseFailure }

// Provider is the interface every LLM backend must satisfy. All failures are
// fatal for the current call; retry policy belongs to the caller.
type Provider interface {
	// Generate produces one utterance given a role prompt and conversation
	// context.
	Generate(ctx context.Context, rolePrompt, context string) (string, error)
	// GenerateStructured produces a JSON document matching the given schema
	// hint. A non-JSON reply surfaces as a *ParseError.
	GenerateStructured(ctx context.Context, prompt, schemaHint string) (json.RawMessage, error)
}

// NewProvider creates an LLM client for the explicitly configured backend.
// Backend selection is a configuration value, never inferred from which
// credential happens to be set.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Backend(cfg.Backend) {
	case OpenAI:
		return validated{openai_provider.NewClient(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout)}, nil
	case Gemini:
		inner, err := gemini_provider.NewClient(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return validated{inner}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", cfg.Backend)
	}
}

// validated enforces the GenerateStructured contract for every backend:
// output that is not a JSON document comes back as a *ParseError instead of
// leaking downstream.
type validated struct {
	Provider
}

func (v validated) GenerateStructured(ctx context.Context, prompt, schemaHint string) (json.RawMessage, error) {
	raw, err := v.Provider.GenerateStructured(ctx, prompt, schemaHint)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		excerpt := string(raw)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return nil, &ParseError{RawExcerpt: excerpt}
	}
	return raw, nil
}
