package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	legacygenai "github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/misskey"
	"google.golang.org/api/option"
)

const (
	// maxMediaFiles is how many images Gemini accepts alongside one prompt here.
	maxMediaFiles = 4
	// maxMediaBytes bounds a single downloaded attachment.
	maxMediaBytes = 20 << 20

	fileActivePollInterval = 300 * time.Millisecond
	fileActiveTimeout      = 15 * time.Second
)

// Uploader puts a drive file into the Gemini Files API and returns a reference to it.
type Uploader interface {
	Upload(ctx context.Context, apiKey string, file misskey.DriveFile) (FileRef, error)
}

// EligibleMedia returns the first four attachments that are images other than GIFs.
func EligibleMedia(files []misskey.DriveFile) []misskey.DriveFile {
	var out []misskey.DriveFile
	for _, f := range files {
		if !strings.HasPrefix(f.Type, "image/") || strings.Contains(f.Type, "gif") {
			continue
		}
		out = append(out, f)
		if len(out) == maxMediaFiles {
			break
		}
	}
	return out
}

// GeminiUploader downloads attachments and uploads them with the generative-ai-go Files API.
type GeminiUploader struct {
	httpClient *http.Client
	endpoint   string

	mu      sync.Mutex
	clients map[string]*legacygenai.Client
}

// NewGeminiUploader creates an uploader. endpoint optionally overrides the Gemini API base URL.
func NewGeminiUploader(endpoint string) *GeminiUploader {
	return &GeminiUploader{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   endpoint,
		clients:    make(map[string]*legacygenai.Client),
	}
}

// Upload downloads file.URL, uploads it under the file's display name and
// waits briefly for the file to become active.
func (u *GeminiUploader) Upload(ctx context.Context, apiKey string, file misskey.DriveFile) (FileRef, error) {
	data, err := u.download(ctx, file.URL)
	if err != nil {
		return FileRef{}, err
	}

	if err := checkContent(file, data); err != nil {
		return FileRef{}, err
	}
	mimeType := file.Type

	client, err := u.client(apiKey)
	if err != nil {
		return FileRef{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	uploaded, err := client.UploadFile(ctx, "", bytes.NewReader(data), &legacygenai.UploadFileOptions{
		DisplayName: file.Name,
		MIMEType:    mimeType,
	})
	if err != nil {
		return FileRef{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if uploaded == nil || uploaded.URI == "" {
		return FileRef{}, ErrUploadedFileURI
	}

	if uploaded.State == legacygenai.FileStateProcessing {
		u.waitActive(ctx, client, uploaded.Name)
	}

	log.Info().
		Str("file_id", file.ID).
		Str("gemini_file", uploaded.Name).
		Str("mime_type", mimeType).
		Int("size", len(data)).
		Msg("Attachment uploaded to Gemini")

	return FileRef{MIMEType: mimeType, URI: uploaded.URI}, nil
}

// checkContent sniffs the downloaded bytes. The declared type is always the
// one sent to Gemini; content that is really a GIF or not an image is rejected
// with ErrUnsupportedMedia.
func checkContent(file misskey.DriveFile, data []byte) error {
	detected := mimetype.Detect(data)
	if detected.Is(file.Type) {
		return nil
	}
	log.Warn().
		Str("file_id", file.ID).
		Str("declared", file.Type).
		Str("detected", detected.String()).
		Msg("Attachment MIME type mismatch")
	if detected.Is("image/gif") || !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("%w: content is %s", ErrUnsupportedMedia, detected.String())
	}
	return nil
}

func (u *GeminiUploader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileDownload, err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrFileDownload, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileDownload, err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrFileDownload, maxMediaBytes)
	}
	return data, nil
}

// waitActive polls until the file leaves the processing state or the timeout passes.
func (u *GeminiUploader) waitActive(ctx context.Context, client *legacygenai.Client, name string) {
	ctx, cancel := context.WithTimeout(ctx, fileActiveTimeout)
	defer cancel()

	ticker := time.NewTicker(fileActivePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Warn().Str("gemini_file", name).Msg("Gemini file still processing, continuing")
			return
		case <-ticker.C:
			f, err := client.GetFile(ctx, name)
			if err != nil {
				log.Debug().Err(err).Str("gemini_file", name).Msg("Gemini file state check failed")
				continue
			}
			if f.State != legacygenai.FileStateProcessing {
				return
			}
		}
	}
}

func (u *GeminiUploader) client(apiKey string) (*legacygenai.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if c, ok := u.clients[apiKey]; ok {
		return c, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if u.endpoint != "" {
		opts = append(opts, option.WithEndpoint(u.endpoint))
	}
	c, err := legacygenai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai files client: %w", err)
	}
	u.clients[apiKey] = c
	return c, nil
}
