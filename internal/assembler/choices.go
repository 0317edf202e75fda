package assembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"packplan/internal/contract"
)

// PlaceholderChoice fills choice slots the legacy data never provided.
const PlaceholderChoice = "(option unavailable)"

// choiceLetters maps slot index to the legacy letter key.
var choiceLetters = [contract.ChoiceSlots]string{"A", "B", "C", "D"}

// NormalizeChoices converts any of the legacy multiple-choice encodings into
// a fixed four-slot array:
//
//   - a JSON object keyed by letter: {"A": "...", "B": "..."}
//   - a pipe-delimited letter-prefixed string: "A. foo|B. bar|..."
//   - a plain JSON array of option texts
//
// Missing slots are padded with PlaceholderChoice, extras are dropped. An
// absent or null value means the item is not multiple-choice and yields nil.
func NormalizeChoices(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode choices array: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return padChoices(list), nil

	case '{':
		var byLetter map[string]string
		if err := json.Unmarshal(raw, &byLetter); err != nil {
			return nil, fmt.Errorf("decode choices object: %w", err)
		}
		if len(byLetter) == 0 {
			return nil, nil
		}
		choices := make([]string, contract.ChoiceSlots)
		for i, letter := range choiceLetters {
			if text, ok := byLetter[letter]; ok {
				choices[i] = strings.TrimSpace(text)
			} else if text, ok := byLetter[strings.ToLower(letter)]; ok {
				choices[i] = strings.TrimSpace(text)
			}
		}
		return padChoices(choices), nil

	case '"':
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil, fmt.Errorf("decode choices string: %w", err)
		}
		if strings.TrimSpace(joined) == "" {
			return nil, nil
		}
		parts := strings.Split(joined, "|")
		choices := make([]string, 0, len(parts))
		for _, part := range parts {
			choices = append(choices, stripLetterPrefix(strings.TrimSpace(part)))
		}
		return padChoices(choices), nil

	default:
		return nil, fmt.Errorf("unrecognized choices encoding: %s", truncateForError(trimmed))
	}
}

// padChoices forces exactly ChoiceSlots entries, filling blanks with the
// placeholder.
func padChoices(choices []string) []string {
	out := make([]string, contract.ChoiceSlots)
	for i := range out {
		if i < len(choices) && strings.TrimSpace(choices[i]) != "" {
			out[i] = choices[i]
		} else {
			out[i] = PlaceholderChoice
		}
	}
	return out
}

// stripLetterPrefix removes a leading "A."-style marker from one option text.
func stripLetterPrefix(text string) string {
	if len(text) < 2 {
		return text
	}
	first := text[0]
	if (first < 'A' || first > 'D') && (first < 'a' || first > 'd') {
		return text
	}
	switch text[1] {
	case '.', ')', ':':
		return strings.TrimSpace(text[2:])
	}
	return text
}

// NormalizeTags converts legacy concept-tag encodings, a JSON array or a
// comma-separated string, into a clean string slice.
func NormalizeTags(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode tags array: %w", err)
		}
		return cleanTags(list), nil
	}

	if trimmed[0] == '"' {
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil, fmt.Errorf("decode tags string: %w", err)
		}
		return cleanTags(strings.Split(joined, ",")), nil
	}

	return nil, fmt.Errorf("unrecognized tags encoding: %s", truncateForError(trimmed))
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := strings.TrimSpace(tag); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func truncateForError(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
