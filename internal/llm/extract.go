package llm

// ExtractCandidateText returns the text of the first part of the first candidate.
func ExtractCandidateText(result *Result) (string, error) {
	if result == nil ||
		len(result.Candidates) == 0 ||
		result.Candidates[0].Content == nil ||
		len(result.Candidates[0].Content.Parts) == 0 {
		return "", ErrInvalidResponse
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
