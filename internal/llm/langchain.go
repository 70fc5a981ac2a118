package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// LangchainGenerator is a text-only generator backed by langchaingo's googleai
// provider. Uploaded files and the thinking budget are not forwarded.
type LangchainGenerator struct {
	httpClient *http.Client

	mu     sync.Mutex
	models map[string]llms.Model
}

// NewLangchainGenerator creates a generator. endpoint optionally overrides the Gemini API base URL.
func NewLangchainGenerator(endpoint string) *LangchainGenerator {
	var httpClient *http.Client
	if endpoint != "" {
		httpClient = httpClientForEndpoint(endpoint)
	}
	return &LangchainGenerator{
		httpClient: httpClient,
		models:     make(map[string]llms.Model),
	}
}

// SupportsFiles is false; the caller skips media upload.
func (g *LangchainGenerator) SupportsFiles() bool { return false }

// GenerateContent sends the system instruction and text as a system/human pair.
func (g *LangchainGenerator) GenerateContent(ctx context.Context, req *GenerateRequest) (*Result, error) {
	model, err := g.model(req.APIKey, req.Model)
	if err != nil {
		return nil, err
	}
	if len(req.Files) > 0 {
		log.Warn().Int("files", len(req.Files)).Msg("langchaingo backend ignores file parts")
	}

	var messages []llms.MessageContent
	if req.SystemInstruction != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: req.SystemInstruction}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: req.Text}},
	})

	resp, err := model.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAPI, err)
	}
	if len(resp.Choices) == 0 {
		return &Result{ModelVersion: req.Model}, nil
	}
	logModelOutput("langchaingo", resp.Choices[0].Content)
	return textResult(resp.Choices[0].Content, req.Model), nil
}

func (g *LangchainGenerator) model(apiKey, modelName string) (llms.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := apiKey + "\x00" + modelName
	if m, ok := g.models[key]; ok {
		return m, nil
	}
	opts := []googleai.Option{googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(modelName)}
	if g.httpClient != nil {
		opts = append(opts, googleai.WithHTTPClient(g.httpClient))
	}
	m, err := googleai.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize googleai model %s: %w", modelName, err)
	}
	g.models[key] = m
	return m, nil
}
