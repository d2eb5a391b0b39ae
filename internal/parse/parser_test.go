package parse

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantMain      string
		wantReasoning *string
	}{
		{
			name:     "empty",
			input:    "",
			wantMain: "",
		},
		{
			name:     "no reasoning",
			input:    "  Paris is the capital.  ",
			wantMain: "Paris is the capital.",
		},
		{
			name:          "single segment",
			input:         "<think>The user asks about France.</think>\nParis.",
			wantMain:      "Paris.",
			wantReasoning: str("The user asks about France."),
		},
		{
			name:          "multiline and mixed case",
			input:         "<THINK>\nline one\nline two\n</Think>Answer",
			wantMain:      "Answer",
			wantReasoning: str("line one\nline two"),
		},
		{
			name:          "multiple segments joined",
			input:         "<think>a</think>first <think>b</think>second",
			wantMain:      "first second",
			wantReasoning: str("a\n\nb"),
		},
		{
			name:          "reasoning only",
			input:         "<think>nothing else</think>",
			wantMain:      "",
			wantReasoning: str("nothing else"),
		},
		{
			name:          "upper case only reasoning",
			input:         "<THINK>X</THINK>",
			wantMain:      "",
			wantReasoning: str("X"),
		},
		{
			name:          "pair formed by removal",
			input:         "<thi<think>a</think>nk>b</think>c",
			wantMain:      "c",
			wantReasoning: str("a\n\nb"),
		},
		{
			name:     "unclosed tag is kept",
			input:    "<think>never closed",
			wantMain: "<think>never closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, reasoning := Parse(tt.input)
			if main != tt.wantMain {
				t.Errorf("main = %q, want %q", main, tt.wantMain)
			}
			switch {
			case tt.wantReasoning == nil && reasoning != nil:
				t.Errorf("reasoning = %q, want nil", *reasoning)
			case tt.wantReasoning != nil && reasoning == nil:
				t.Errorf("reasoning = nil, want %q", *tt.wantReasoning)
			case tt.wantReasoning != nil && *reasoning != *tt.wantReasoning:
				t.Errorf("reasoning = %q, want %q", *reasoning, *tt.wantReasoning)
			}
		})
	}
}

func TestParseIsIdempotentOnMain(t *testing.T) {
	inputs := []string{
		"",
		"plain answer",
		"<think>why</think>\nbecause",
		"<THINK>X</THINK>",
		"<think>a</think>first <think>b</think>second",
		"<thi<think>a</think>nk>b</think>c",
		"<think>never closed",
	}

	for _, in := range inputs {
		main, _ := Parse(in)
		again, reasoning := Parse(main)
		if again != main || reasoning != nil {
			t.Errorf("Parse(%q) = (%q, %v), want (%q, nil)", main, again, reasoning, main)
		}
	}
}

func TestResponseDisplay(t *testing.T) {
	raw := "<think>only thoughts</think>"
	r := ParseResponse(raw)
	if got := r.Display(raw); got != raw {
		t.Errorf("Display() = %q, want raw text %q", got, raw)
	}

	raw = "<think>x</think> shown"
	r = ParseResponse(raw)
	if got := r.Display(raw); got != "shown" {
		t.Errorf("Display() = %q, want %q", got, "shown")
	}
}

func str(s string) *string { return &s }
