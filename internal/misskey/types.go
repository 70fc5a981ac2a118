package misskey

import "fmt"

// Note visibilities as returned by the API.
const (
	VisibilityPublic       = "public"
	VisibilityHome         = "home"
	VisibilityFollowers    = "followers"
	VisibilitySpecified    = "specified"
	VisibilityPublicNonLTL = "public_non_ltl"
)

// MaxNotesPerRequest is the largest page users/notes accepts.
const MaxNotesPerRequest = 100

// Note is the subset of a note used for summarization.
type Note struct {
	ID         string      `json:"id"`
	CreatedAt  string      `json:"createdAt"`
	UserID     string      `json:"userId"`
	Text       *string     `json:"text"`
	CW         *string     `json:"cw"`
	Visibility string      `json:"visibility"`
	Files      []DriveFile `json:"files,omitempty"`
}

// DriveFile is a file attached to a note.
type DriveFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // MIME type, e.g. image/png
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// User is the profile returned by users/show.
type User struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Host        *string `json:"host"`
	Name        *string `json:"name"`
	Location    *string `json:"location"`
	Description *string `json:"description"`
}

// Meta is the subset of instance metadata this client needs.
type Meta struct {
	Name                string `json:"name"`
	Version             string `json:"version"`
	ServerGeminiEnabled bool   `json:"serverGeminiEnabled"`
}

// UserNotesRequest is the body of users/notes.
type UserNotesRequest struct {
	UserID           string `json:"userId"`
	WithRenotes      bool   `json:"withRenotes"`
	WithReplies      bool   `json:"withReplies"`
	WithChannelNotes bool   `json:"withChannelNotes"`
	WithFiles        bool   `json:"withFiles"`
	Limit            int    `json:"limit"`
	AllowPartial     bool   `json:"allowPartial"`
	UntilID          string `json:"untilId,omitempty"`
}

// FileURI references a file already uploaded to the Gemini Files API.
type FileURI struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// LLMGenRequest is the body of notes/llm-gen.
type LLMGenRequest struct {
	Text     string    `json:"text"`
	Prompt   string    `json:"prompt"`
	FileURIs []FileURI `json:"fileUris,omitempty"`
}

// APIError is the error envelope returned by the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	ID         string `json:"id"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("misskey api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("misskey api: %s: %s", e.Code, e.Message)
}

// Error codes the summarizer reacts to.
const (
	CodeNoSuchUser           = "NO_SUCH_USER"
	CodeNoSuchNote           = "NO_SUCH_NOTE"
	CodeRolePermissionDenied = "ROLE_PERMISSION_DENIED"
)
