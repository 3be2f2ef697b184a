package ussd

import "strings"

// InputSeparator separates successive submissions in the gateway's text field.
const InputSeparator = "*"

// Segment splits the accumulated callback text into one entry per submission.
// Empty or whitespace-only text is a fresh session and yields no entries.
func Segment(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	return strings.Split(text, InputSeparator)
}
