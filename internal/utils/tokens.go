package utils

// charsPerToken is the heuristic used for every estimate below. CSV payloads
// tokenize worse than prose, so estimates for large datasets run low.
const charsPerToken = 4

// messageOverhead approximates the role and separator tokens a chat API adds
// around each message.
const messageOverhead = 4

// CountTokens estimates the tokens in text. Non-empty text is at least one token.
func CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	if n := len([]rune(text)) / charsPerToken; n > 0 {
		return n
	}
	return 1
}

// PromptTokens estimates a chat prompt made of the given message bodies.
func PromptTokens(messages ...string) int {
	n := 0
	for _, m := range messages {
		n += CountTokens(m) + messageOverhead
	}
	return n
}

// TokenBreakdown returns token estimates per labeled prompt section.
func TokenBreakdown(sections map[string]string) map[string]int {
	out := make(map[string]int, len(sections))
	for k, v := range sections {
		out[k] = CountTokens(v)
	}
	return out
}
