package gemini_provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// client implements the provider interface using the Google Gemini API
type client struct {
	genai   *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewClient creates a new Gemini client
func NewClient(apiKey, model string, temperature float64, timeout time.Duration) (*client, error) {
	gc, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	gm := gc.GenerativeModel(model)
	temp := float32(temperature)
	gm.Temperature = &temp
	return &client{genai: gc, model: gm, timeout: timeout}, nil
}

// Generate produces one utterance for the given role prompt and conversation context
func (c *client) Generate(ctx context.Context, rolePrompt, convContext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	prompt := rolePrompt + "\n\n" + convContext
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return firstText(resp)
}

// GenerateStructured requests a JSON document matching the schema hint
func (c *client) GenerateStructured(ctx context.Context, prompt, schemaHint string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	full := fmt.Sprintf(`%s

Respond ONLY with valid JSON matching this schema:
%s
Do not include any other text or formatting.`, prompt, schemaHint)
	resp, err := c.model.GenerateContent(ctx, genai.Text(full))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return json.RawMessage(strings.TrimSpace(text)), nil
}

// Close closes the underlying Gemini client.
func (c *client) Close() error {
	return c.genai.Close()
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("generated content is not text")
	}
	return string(text), nil
}
