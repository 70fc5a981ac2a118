package llm

import "errors"

// Errors returned by Generate and the media upload path. Callers match them with errors.Is.
var (
	ErrCanceled         = errors.New("generation canceled")
	ErrDisabled         = errors.New("gemini api usage disabled")
	ErrServerDisabled   = errors.New("server-provided gemini api is not enabled")
	ErrServerPermission = errors.New("not permitted to use the server-provided gemini api")
	ErrServerLLMAPI     = errors.New("server llm api error")
	ErrTokenMissing     = errors.New("gemini api token is not set")
	ErrAPI              = errors.New("gemini api error")
	ErrInvalidResponse  = errors.New("invalid llm response: candidates, content or parts missing")

	ErrFileDownload     = errors.New("failed to download file")
	ErrUpload           = errors.New("failed to upload file to gemini")
	ErrUploadedFileURI  = errors.New("uploaded file has no uri")
	ErrUnsupportedMedia = errors.New("attachment content is not an eligible image")
)
