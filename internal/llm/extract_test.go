package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCandidateText(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"first part of first candidate", `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}},{"content":{"parts":[{"text":"c"}]}}]}`, "a", false},
		{"empty text is valid", `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`, "", false},
		{"no candidates", `{"candidates":[]}`, "", true},
		{"missing candidates", `{}`, "", true},
		{"missing content", `{"candidates":[{"finishReason":"SAFETY"}]}`, "", true},
		{"empty parts", `{"candidates":[{"content":{"parts":[]}}]}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Result
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))

			got, err := ExtractCandidateText(&r)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCandidateText_Nil(t *testing.T) {
	_, err := ExtractCandidateText(nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
