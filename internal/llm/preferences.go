package llm

import "sync"

// Preferences are the user settings consulted on every generation.
type Preferences struct {
	GeminiToken        string
	GeminiModel        string
	ThinkingBudget     *int
	UseServerLLM       bool
	UseGeminiWithMedia bool
}

// PreferenceStore exposes the current preferences. DisableServerLLM is called
// when the user turns the server-provided API off from the fallback prompt.
type PreferenceStore interface {
	Preferences() Preferences
	DisableServerLLM()
}

// MemoryPreferences is a PreferenceStore kept in memory for the process lifetime.
type MemoryPreferences struct {
	mu    sync.RWMutex
	prefs Preferences
}

// NewMemoryPreferences creates a store seeded with prefs.
func NewMemoryPreferences(prefs Preferences) *MemoryPreferences {
	return &MemoryPreferences{prefs: prefs}
}

// Preferences returns a copy of the current preferences.
func (m *MemoryPreferences) Preferences() Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs
}

// DisableServerLLM turns off the server-mediated API.
func (m *MemoryPreferences) DisableServerLLM() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs.UseServerLLM = false
}
