package oracle

import (
	"fmt"
	"unicode/utf8"
)

// maxPromptText bounds the source text embedded in the user prompt.
const maxPromptText = 30_000

// SystemPrompt instructs the model to act as a conservative resolution
// oracle that answers with a single JSON object.
const SystemPrompt = `You are the resolution oracle for a prediction market platform called DegenBets. Your job is to determine whether a prediction market question has resolved YES, NO, or should be VOIDED.

Rules:
1. Analyze the provided source text carefully.
2. Only resolve YES or NO if the source text provides clear, definitive evidence.
3. If the source text is ambiguous, unavailable, or the event hasn't clearly occurred/not occurred, resolve VOID.
4. Be conservative - when in doubt, VOID.
5. Provide a confidence score from 0.0 to 1.0.

Respond ONLY with valid JSON in this exact format:
{"decision": "yes" | "no" | "void", "confidence": 0.0-1.0, "reasoning": "brief explanation"}`

// UserPrompt embeds the market question, its source URL and the extracted
// source text.
func UserPrompt(question, sourceURL, sourceText string) string {
	return fmt.Sprintf(`Market Question: %s

Resolution Source URL: %s

Extracted Source Text (may be truncated):
---
%s
---

Based on the source text above, has the market question resolved YES, NO, or should it be VOIDED? Respond with JSON only.`,
		question, sourceURL, truncate(sourceText, maxPromptText))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
