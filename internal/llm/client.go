package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/misskey"
)

const mediaErrorTitle = "Media processing error"
const mediaErrorText = "Failed to process the attached files. Continuing the summary with text only."

// ServerAPI is the instance side: metadata and the server-mediated Gemini endpoint.
type ServerAPI interface {
	Meta(ctx context.Context) (*misskey.Meta, error)
	LLMGen(ctx context.Context, req *misskey.LLMGenRequest) (json.RawMessage, error)
}

// Client decides between the server-mediated API and the user's own Gemini
// token, uploads eligible media, and returns the raw generation result.
type Client struct {
	server    ServerAPI
	generator Generator
	uploader  Uploader
	prefs     PreferenceStore
	prompter  FallbackPrompter
	notifier  Notifier

	metaMu sync.Mutex
	meta   *misskey.Meta
}

// NewClient creates a new LLM client. uploader may be nil to disable media upload.
func NewClient(server ServerAPI, generator Generator, uploader Uploader, prefs PreferenceStore, prompter FallbackPrompter, notifier Notifier) *Client {
	if prompter == nil {
		prompter = PolicyPrompter{Choice: ChoiceCancel}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Client{
		server:    server,
		generator: generator,
		uploader:  uploader,
		prefs:     prefs,
		prompter:  prompter,
		notifier:  notifier,
	}
}

// Notifier returns the notifier alerts are sent to.
func (c *Client) Notifier() Notifier { return c.notifier }

// Generate produces a Gemini generateContent result for the note (text and
// attached images) or, without a note, for req.UserContent.
func (c *Client) Generate(ctx context.Context, req *Request) (*Result, error) {
	prefs := c.prefs.Preferences()

	text := req.UserContent
	var files []misskey.DriveFile
	if req.Note != nil {
		if req.Note.Text != nil && *req.Note.Text != "" {
			text = *req.Note.Text
		}
		files = req.Note.Files
	}
	hasMedia := len(files) > 0 && prefs.UseGeminiWithMedia && c.uploader != nil

	if prefs.UseServerLLM {
		meta := c.instanceMeta(ctx)
		if meta == nil || !meta.ServerGeminiEnabled {
			if prefs.GeminiToken == "" {
				return nil, ErrServerDisabled
			}
			choice, err := c.prompter.ChooseFallback(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
			switch choice {
			case ChoiceFallback:
				log.Info().Msg("Server Gemini API disabled, falling back to user token")
			case ChoiceDisable:
				c.prefs.DisableServerLLM()
				return nil, ErrDisabled
			default:
				return nil, ErrCanceled
			}
		} else {
			return c.generateViaServer(ctx, text, req.SystemInstruction, files, hasMedia, prefs)
		}
	}

	return c.generateDirect(ctx, text, req.SystemInstruction, files, hasMedia, prefs)
}

// generateViaServer uploads media with the user's token (when present) and
// delegates generation to notes/llm-gen.
func (c *Client) generateViaServer(ctx context.Context, text, systemInstruction string, files []misskey.DriveFile, hasMedia bool, prefs Preferences) (*Result, error) {
	var fileURIs []misskey.FileURI
	if hasMedia && prefs.GeminiToken != "" {
		refs, err := c.uploadMedia(ctx, prefs.GeminiToken, files)
		if err != nil {
			log.Error().Err(err).Msg("Media processing failed")
			c.notifier.Alert(ctx, AlertError, mediaErrorTitle, mediaErrorText)
		}
		for _, ref := range refs {
			fileURIs = append(fileURIs, misskey.FileURI{MIMEType: ref.MIMEType, FileURI: ref.URI})
		}
	}

	raw, err := c.server.LLMGen(ctx, &misskey.LLMGenRequest{
		Text:     text,
		Prompt:   systemInstruction,
		FileURIs: fileURIs,
	})
	if err != nil {
		var apiErr *misskey.APIError
		if errors.As(err, &apiErr) && apiErr.Code == misskey.CodeRolePermissionDenied {
			return nil, ErrServerPermission
		}
		return nil, fmt.Errorf("%w: %w", ErrServerLLMAPI, err)
	}
	logModelOutput("notes/llm-gen", string(raw))

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerLLMAPI, err)
	}
	return &result, nil
}

// generateDirect calls Gemini with the user's token.
func (c *Client) generateDirect(ctx context.Context, text, systemInstruction string, files []misskey.DriveFile, hasMedia bool, prefs Preferences) (*Result, error) {
	if prefs.GeminiToken == "" {
		return nil, ErrTokenMissing
	}

	req := &GenerateRequest{
		APIKey:            prefs.GeminiToken,
		Model:             prefs.GeminiModel,
		SystemInstruction: systemInstruction,
		Text:              text,
		ThinkingBudget:    prefs.ThinkingBudget,
	}

	if hasMedia && c.generator.SupportsFiles() {
		refs, err := c.uploadMedia(ctx, prefs.GeminiToken, files)
		if err != nil {
			log.Error().Err(err).Msg("Media processing failed")
			c.notifier.Alert(ctx, AlertError, mediaErrorTitle, mediaErrorText)
		}
		req.Files = refs
	}

	return c.generator.GenerateContent(ctx, req)
}

// uploadMedia uploads eligible attachments in order. On failure it returns
// the files uploaded so far together with the error.
func (c *Client) uploadMedia(ctx context.Context, apiKey string, files []misskey.DriveFile) ([]FileRef, error) {
	var refs []FileRef
	for _, f := range EligibleMedia(files) {
		ref, err := c.uploader.Upload(ctx, apiKey, f)
		if errors.Is(err, ErrUnsupportedMedia) {
			log.Warn().Err(err).Str("file_id", f.ID).Msg("Skipping attachment")
			continue
		}
		if err != nil {
			return refs, fmt.Errorf("upload %s: %w", f.ID, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// instanceMeta returns cached instance metadata, fetching it on first use.
// A failed fetch is not cached and reads as "server API unavailable".
func (c *Client) instanceMeta(ctx context.Context) *misskey.Meta {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.meta != nil {
		return c.meta
	}
	meta, err := c.server.Meta(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch instance metadata")
		return nil
	}
	c.meta = meta
	return meta
}
