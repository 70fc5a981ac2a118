package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/snappy-loop/notesum/internal/misskey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	meta    *misskey.Meta
	metaErr error
	calls   int

	llmGen   func(*misskey.LLMGenRequest) (json.RawMessage, error)
	lastGen  *misskey.LLMGenRequest
	genCalls int
}

func (f *fakeServer) Meta(context.Context) (*misskey.Meta, error) {
	f.calls++
	return f.meta, f.metaErr
}

func (f *fakeServer) LLMGen(_ context.Context, req *misskey.LLMGenRequest) (json.RawMessage, error) {
	f.genCalls++
	f.lastGen = req
	if f.llmGen != nil {
		return f.llmGen(req)
	}
	return json.RawMessage(`{"candidates":[{"content":{"parts":[{"text":"server"}]}}]}`), nil
}

type fakeGenerator struct {
	files bool
	last  *GenerateRequest
	err   error
}

func (f *fakeGenerator) SupportsFiles() bool { return f.files }

func (f *fakeGenerator) GenerateContent(_ context.Context, req *GenerateRequest) (*Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return textResult("direct", req.Model), nil
}

type fakeUploader struct {
	failOn      string
	unsupported string
	seen        []string
}

func (f *fakeUploader) Upload(_ context.Context, _ string, file misskey.DriveFile) (FileRef, error) {
	f.seen = append(f.seen, file.ID)
	if file.ID == f.failOn {
		return FileRef{}, ErrUpload
	}
	if file.ID == f.unsupported {
		return FileRef{}, ErrUnsupportedMedia
	}
	return FileRef{MIMEType: file.Type, URI: "https://files.example/" + file.ID}, nil
}

type recordedAlert struct {
	level AlertLevel
	title string
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (f *fakeNotifier) Alert(_ context.Context, level AlertLevel, title, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, recordedAlert{level: level, title: title})
}

func strPtr(s string) *string { return &s }

func imageNote(ids ...string) *misskey.Note {
	n := &misskey.Note{ID: "note1", Text: strPtr("note text"), Visibility: misskey.VisibilityPublic}
	for _, id := range ids {
		n.Files = append(n.Files, misskey.DriveFile{ID: id, Type: "image/png", URL: "https://cdn.example/" + id})
	}
	return n
}

func TestGenerate_ServerEnabled(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: true}}
	gen := &fakeGenerator{files: true}
	prefs := NewMemoryPreferences(Preferences{UseServerLLM: true})
	c := NewClient(server, gen, nil, prefs, nil, nil)

	result, err := c.Generate(context.Background(), &Request{UserContent: "profile", SystemInstruction: "sys"})
	require.NoError(t, err)

	text, err := ExtractCandidateText(result)
	require.NoError(t, err)
	assert.Equal(t, "server", text)
	require.NotNil(t, server.lastGen)
	assert.Equal(t, "profile", server.lastGen.Text)
	assert.Equal(t, "sys", server.lastGen.Prompt)
	assert.Empty(t, server.lastGen.FileURIs)
	assert.Nil(t, gen.last, "direct generator must not be called")
}

func TestGenerate_MetaCachedAfterSuccess(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: true}}
	c := NewClient(server, &fakeGenerator{}, nil, NewMemoryPreferences(Preferences{UseServerLLM: true}), nil, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, server.calls)
}

func TestGenerate_ServerDisabledWithoutToken(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: false}}
	gen := &fakeGenerator{}
	c := NewClient(server, gen, nil, NewMemoryPreferences(Preferences{UseServerLLM: true}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrServerDisabled)
	assert.Equal(t, 0, server.genCalls)
	assert.Nil(t, gen.last)
}

func TestGenerate_MetaFailureTreatedAsDisabled(t *testing.T) {
	server := &fakeServer{metaErr: errors.New("boom")}
	c := NewClient(server, &fakeGenerator{}, nil, NewMemoryPreferences(Preferences{UseServerLLM: true}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrServerDisabled)

	_, _ = c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.Equal(t, 2, server.calls, "failed meta fetch must not be cached")
}

func TestGenerate_ServerDisabledFallbackChoices(t *testing.T) {
	tests := []struct {
		name         string
		choice       FallbackChoice
		wantErr      error
		wantDirect   bool
		wantServerOn bool
	}{
		{"fallback", ChoiceFallback, nil, true, true},
		{"disable", ChoiceDisable, ErrDisabled, false, false},
		{"cancel", ChoiceCancel, ErrCanceled, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: false}}
			gen := &fakeGenerator{}
			prefs := NewMemoryPreferences(Preferences{UseServerLLM: true, GeminiToken: "tok", GeminiModel: "gemini-2.5-flash"})
			c := NewClient(server, gen, nil, prefs, PolicyPrompter{Choice: tt.choice}, nil)

			result, err := c.Generate(context.Background(), &Request{UserContent: "x"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				text, _ := ExtractCandidateText(result)
				assert.Equal(t, "direct", text)
			}
			assert.Equal(t, tt.wantDirect, gen.last != nil)
			assert.Equal(t, tt.wantServerOn, prefs.Preferences().UseServerLLM)
			assert.Equal(t, 0, server.genCalls)
		})
	}
}

type errPrompter struct{}

func (errPrompter) ChooseFallback(context.Context) (FallbackChoice, error) {
	return ChoiceCancel, context.Canceled
}

func TestGenerate_PrompterErrorCancels(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{}}
	c := NewClient(server, &fakeGenerator{}, nil, NewMemoryPreferences(Preferences{UseServerLLM: true, GeminiToken: "tok"}), errPrompter{}, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestGenerate_ServerPermissionDenied(t *testing.T) {
	server := &fakeServer{
		meta: &misskey.Meta{ServerGeminiEnabled: true},
		llmGen: func(*misskey.LLMGenRequest) (json.RawMessage, error) {
			return nil, &misskey.APIError{StatusCode: 403, Code: misskey.CodeRolePermissionDenied}
		},
	}
	c := NewClient(server, &fakeGenerator{}, nil, NewMemoryPreferences(Preferences{UseServerLLM: true}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrServerPermission)
}

func TestGenerate_ServerOtherError(t *testing.T) {
	server := &fakeServer{
		meta: &misskey.Meta{ServerGeminiEnabled: true},
		llmGen: func(*misskey.LLMGenRequest) (json.RawMessage, error) {
			return nil, &misskey.APIError{StatusCode: 500, Code: "INTERNAL_ERROR"}
		},
	}
	c := NewClient(server, &fakeGenerator{}, nil, NewMemoryPreferences(Preferences{UseServerLLM: true}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrServerLLMAPI)
	assert.NotErrorIs(t, err, ErrServerPermission)
}

func TestGenerate_ServerUploadsMediaWithToken(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: true}}
	up := &fakeUploader{}
	prefs := NewMemoryPreferences(Preferences{UseServerLLM: true, UseGeminiWithMedia: true, GeminiToken: "tok"})
	c := NewClient(server, &fakeGenerator{}, up, prefs, nil, nil)

	_, err := c.Generate(context.Background(), &Request{Note: imageNote("a", "b")})
	require.NoError(t, err)
	require.Len(t, server.lastGen.FileURIs, 2)
	assert.Equal(t, "https://files.example/a", server.lastGen.FileURIs[0].FileURI)
	assert.Equal(t, "image/png", server.lastGen.FileURIs[0].MIMEType)
	assert.Equal(t, "note text", server.lastGen.Text)
}

func TestGenerate_ServerSkipsUnsupportedMedia(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: true}}
	up := &fakeUploader{unsupported: "a"}
	notifier := &fakeNotifier{}
	prefs := NewMemoryPreferences(Preferences{UseServerLLM: true, UseGeminiWithMedia: true, GeminiToken: "tok"})
	c := NewClient(server, &fakeGenerator{}, up, prefs, nil, notifier)

	_, err := c.Generate(context.Background(), &Request{Note: imageNote("a", "b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, up.seen)
	require.Len(t, server.lastGen.FileURIs, 1)
	assert.Equal(t, "https://files.example/b", server.lastGen.FileURIs[0].FileURI)
	assert.Equal(t, "image/png", server.lastGen.FileURIs[0].MIMEType)
	assert.Empty(t, notifier.alerts)
}

func TestGenerate_ServerSkipsMediaWithoutToken(t *testing.T) {
	server := &fakeServer{meta: &misskey.Meta{ServerGeminiEnabled: true}}
	up := &fakeUploader{}
	prefs := NewMemoryPreferences(Preferences{UseServerLLM: true, UseGeminiWithMedia: true})
	c := NewClient(server, &fakeGenerator{}, up, prefs, nil, nil)

	_, err := c.Generate(context.Background(), &Request{Note: imageNote("a")})
	require.NoError(t, err)
	assert.Empty(t, up.seen)
	assert.Empty(t, server.lastGen.FileURIs)
}

func TestGenerate_DirectTokenMissing(t *testing.T) {
	gen := &fakeGenerator{}
	c := NewClient(&fakeServer{}, gen, nil, NewMemoryPreferences(Preferences{}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrTokenMissing)
	assert.Nil(t, gen.last)
}

func TestGenerate_DirectRequestFields(t *testing.T) {
	budget := 0
	gen := &fakeGenerator{files: true}
	prefs := NewMemoryPreferences(Preferences{GeminiToken: "tok", GeminiModel: "gemini-2.5-pro", ThinkingBudget: &budget})
	c := NewClient(&fakeServer{}, gen, nil, prefs, nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "content", SystemInstruction: "sys"})
	require.NoError(t, err)
	require.NotNil(t, gen.last)
	assert.Equal(t, "tok", gen.last.APIKey)
	assert.Equal(t, "gemini-2.5-pro", gen.last.Model)
	assert.Equal(t, "sys", gen.last.SystemInstruction)
	assert.Equal(t, "content", gen.last.Text)
	require.NotNil(t, gen.last.ThinkingBudget)
	assert.Equal(t, 0, *gen.last.ThinkingBudget)
}

func TestGenerate_NoteWithEmptyTextUsesUserContent(t *testing.T) {
	gen := &fakeGenerator{}
	c := NewClient(&fakeServer{}, gen, nil, NewMemoryPreferences(Preferences{GeminiToken: "tok"}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{Note: &misskey.Note{Text: strPtr("")}, UserContent: "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", gen.last.Text)
}

func TestGenerate_DirectMediaFailureKeepsUploadedFiles(t *testing.T) {
	gen := &fakeGenerator{files: true}
	up := &fakeUploader{failOn: "b"}
	notifier := &fakeNotifier{}
	prefs := NewMemoryPreferences(Preferences{GeminiToken: "tok", UseGeminiWithMedia: true})
	c := NewClient(&fakeServer{}, gen, up, prefs, nil, notifier)

	_, err := c.Generate(context.Background(), &Request{Note: imageNote("a", "b", "c")})
	require.NoError(t, err)
	require.Len(t, gen.last.Files, 1)
	assert.Equal(t, "https://files.example/a", gen.last.Files[0].URI)
	assert.Equal(t, []string{"a", "b"}, up.seen)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, AlertError, notifier.alerts[0].level)
	assert.Equal(t, mediaErrorTitle, notifier.alerts[0].title)
}

func TestGenerate_DirectSkipsMediaWhenGeneratorIsTextOnly(t *testing.T) {
	gen := &fakeGenerator{files: false}
	up := &fakeUploader{}
	c := NewClient(&fakeServer{}, gen, up, NewMemoryPreferences(Preferences{GeminiToken: "tok", UseGeminiWithMedia: true}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{Note: imageNote("a")})
	require.NoError(t, err)
	assert.Empty(t, up.seen)
	assert.Empty(t, gen.last.Files)
}

func TestGenerate_MediaDisabledByPreference(t *testing.T) {
	gen := &fakeGenerator{files: true}
	up := &fakeUploader{}
	c := NewClient(&fakeServer{}, gen, up, NewMemoryPreferences(Preferences{GeminiToken: "tok"}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{Note: imageNote("a")})
	require.NoError(t, err)
	assert.Empty(t, up.seen)
}

func TestGenerate_DirectGeneratorError(t *testing.T) {
	gen := &fakeGenerator{err: ErrAPI}
	c := NewClient(&fakeServer{}, gen, nil, NewMemoryPreferences(Preferences{GeminiToken: "tok"}), nil, nil)

	_, err := c.Generate(context.Background(), &Request{UserContent: "x"})
	assert.ErrorIs(t, err, ErrAPI)
}
