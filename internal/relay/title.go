// ABOUTME: Auto-titling: asks the provider to summarize an exchange into a short title
// ABOUTME: Cleans the reply into a single bounded line

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultTitleMaxLength is the default title length limit in characters.
const DefaultTitleMaxLength = 60

// maxTitleSourceChars bounds how much of each turn is sent for titling.
const maxTitleSourceChars = 2000

const titleInstruction = "Summarize the following exchange as a short conversation title of at most six words. " +
	"Reply with the title only, without quotes or trailing punctuation."

var errEmptyTitle = errors.New("provider returned an empty title")

func (r *Relay) generateTitle(ctx context.Context, rc *resolvedCredential, prompt, reply string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: titleInstruction},
		{Role: "user", Content: fmt.Sprintf("User: %s\n\nAssistant: %s",
			truncateRunes(prompt, maxTitleSourceChars),
			truncateRunes(reply, maxTitleSourceChars))},
	}

	raw, err := r.client.Complete(ctx, rc.endpoint, rc.cred.APIKey, rc.model, messages)
	if err != nil {
		return "", err
	}
	title := cleanTitle(raw, r.cfg.TitleMaxLength)
	if title == "" {
		return "", errEmptyTitle
	}
	return title, nil
}

// cleanTitle keeps the first non-empty line, strips surrounding quotes,
// "Title:" prefixes and trailing punctuation, collapses whitespace, and
// truncates to maxLen characters.
func cleanTitle(raw string, maxLen int) string {
	var line string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}

	if len(line) >= 6 && strings.EqualFold(line[:6], "title:") {
		line = strings.TrimSpace(line[6:])
	}
	line = strings.Trim(line, "\"'`*#“”‘’ ")
	line = strings.Join(strings.Fields(line), " ")
	line = strings.TrimRightFunc(line, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '?' && r != '!'
	})
	line = truncateRunes(line, maxLen)
	return strings.TrimSpace(line)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
