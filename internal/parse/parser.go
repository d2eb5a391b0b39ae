// Package parse separates model reasoning from the answer shown to users.
package parse

import (
	"regexp"
	"strings"
)

var thinkPattern = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// Parse splits a model response into its main text and the reasoning
// enclosed in <think>...</think> pairs (case-insensitive, may span lines).
// Multiple reasoning segments are joined with a blank line. reasoning is
// nil when the response carries no pair, and the main text is the response
// with every pair removed, trimmed.
func Parse(text string) (main string, reasoning *string) {
	if text == "" {
		return "", nil
	}

	var segments []string
	main = text
	// removing a pair can join the halves of another one
	for {
		matches := thinkPattern.FindAllStringSubmatch(main, -1)
		if len(matches) == 0 {
			break
		}
		for _, m := range matches {
			segments = append(segments, strings.TrimSpace(m[1]))
		}
		main = thinkPattern.ReplaceAllString(main, "")
	}
	if len(segments) > 0 {
		joined := strings.Join(segments, "\n\n")
		reasoning = &joined
	}

	main = strings.TrimSpace(main)
	return main, reasoning
}

// Response is a parsed model response ready for display.
type Response struct {
	Main      string  `json:"main"`
	Reasoning *string `json:"reasoning"`
}

// ParseResponse is Parse returning a Response. Display falls back to the raw
// text when the main part is empty.
func ParseResponse(text string) Response {
	main, reasoning := Parse(text)
	return Response{Main: main, Reasoning: reasoning}
}

// Display returns the text to show as the answer body.
func (r Response) Display(raw string) string {
	if r.Main != "" {
		return r.Main
	}
	return raw
}
