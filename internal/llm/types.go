package llm

import "github.com/snappy-loop/notesum/internal/misskey"

// Request is the input of Generate. Note takes precedence over UserContent.
type Request struct {
	Note              *misskey.Note
	UserContent       string
	SystemInstruction string
}

// FileRef points at a file uploaded to the Gemini Files API.
type FileRef struct {
	MIMEType string
	URI      string
}

// GenerateRequest is a direct generateContent call made with the user's token.
type GenerateRequest struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Text              string
	Files             []FileRef
	ThinkingBudget    *int
}

// Result mirrors the generateContent response body. Both the server-mediated
// endpoint and the direct backends are decoded into it.
type Result struct {
	Candidates   []Candidate `json:"candidates"`
	ModelVersion string      `json:"modelVersion,omitempty"`
}

// Candidate is one generated candidate.
type Candidate struct {
	Content      *Content `json:"content"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// Content holds the parts of a candidate.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a text part.
type Part struct {
	Text string `json:"text"`
}

// textResult wraps a single text answer as a Result.
func textResult(text, model string) *Result {
	return &Result{
		Candidates:   []Candidate{{Content: &Content{Role: "model", Parts: []Part{{Text: text}}}}},
		ModelVersion: model,
	}
}
