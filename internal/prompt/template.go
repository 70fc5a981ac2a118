// Package prompt builds the user content sent to the LLM.
package prompt

import (
	"regexp"
	"strings"
)

// DefaultProfileTemplate lays out the profile and the collected notes.
const DefaultProfileTemplate = "プロフィール情報:\n" +
	"名前: {{name}}\n" +
	"場所: {{location}}\n" +
	"自己紹介: {{description}}\n\n" +
	"投稿:\n{{notes}}"

var placeholder = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Render replaces each {{ key }} with values[key]. Unknown keys are kept as
// {{key}} with surrounding whitespace removed. Substituted values are not
// scanned again.
func Render(template string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := values[key]; ok {
			return v
		}
		return "{{" + key + "}}"
	})
}

// Profile holds the profile fields shown in the prompt.
type Profile struct {
	Name        string
	Location    string
	Description string
}

// ProfileContent renders the profile template with the note texts joined by newlines.
// An empty template selects DefaultProfileTemplate.
func ProfileContent(template string, p Profile, noteTexts []string) string {
	if template == "" {
		template = DefaultProfileTemplate
	}
	return Render(template, map[string]string{
		"name":        p.Name,
		"location":    p.Location,
		"description": p.Description,
		"notes":       strings.Join(noteTexts, "\n"),
	})
}

// SystemInstruction joins prompt fragments with newlines. Empty fragments are kept.
func SystemInstruction(fragments ...string) string {
	return strings.Join(fragments, "\n")
}
