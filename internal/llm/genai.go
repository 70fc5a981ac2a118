package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Generator runs a direct generateContent call with the user's Gemini token.
type Generator interface {
	GenerateContent(ctx context.Context, req *GenerateRequest) (*Result, error)
	// SupportsFiles reports whether uploaded file parts can be attached.
	SupportsFiles() bool
}

// GenAIGenerator calls Gemini through the unified genai SDK. Clients are created
// lazily per API key since the key comes from user preferences.
type GenAIGenerator struct {
	endpoint string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGenAIGenerator creates a generator. endpoint optionally overrides the Gemini API base URL.
func NewGenAIGenerator(endpoint string) *GenAIGenerator {
	return &GenAIGenerator{
		endpoint: endpoint,
		clients:  make(map[string]*genai.Client),
	}
}

// SupportsFiles is true: file_data parts are sent as-is.
func (g *GenAIGenerator) SupportsFiles() bool { return true }

// GenerateContent builds system_instruction, a single user content (text then
// file parts) and the thinking config, and converts the response to a Result.
func (g *GenAIGenerator) GenerateContent(ctx context.Context, req *GenerateRequest) (*Result, error) {
	client, err := g.client(req.APIKey)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Text)}
	for _, f := range req.Files {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.SystemInstruction)}}
	}
	if req.ThinkingBudget != nil {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(*req.ThinkingBudget))}
	}

	log.Debug().
		Str("model", req.Model).
		Int("text_len", len(req.Text)).
		Int("files", len(req.Files)).
		Msg("Calling Gemini generateContent")

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, wrapGenAIError(err)
	}
	logModelOutput("genai", resp.Text())

	return convertGenAIResponse(resp), nil
}

func (g *GenAIGenerator) client(apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if g.endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.endpoint}
	}
	c, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// wrapGenAIError maps SDK HTTP failures onto ErrAPI with the status, as the REST contract reports them.
func wrapGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %d %s: %s", ErrAPI, apiErr.Code, apiErr.Status, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fmt.Errorf("%w: %d %s: %s", ErrAPI, apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message)
	}
	return fmt.Errorf("%w: %w", ErrAPI, err)
}

func convertGenAIResponse(resp *genai.GenerateContentResponse) *Result {
	result := &Result{ModelVersion: resp.ModelVersion}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		c := Candidate{FinishReason: string(cand.FinishReason)}
		if cand.Content != nil {
			content := &Content{Role: cand.Content.Role}
			for _, part := range cand.Content.Parts {
				if part == nil || part.Thought {
					continue
				}
				content.Parts = append(content.Parts, Part{Text: part.Text})
			}
			c.Content = content
		}
		result.Candidates = append(result.Candidates, c)
	}
	return result
}
