package view

import "testing"

func TestFormatBody(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"empty body",
			"",
			"<p>No content available.</p>",
		},
		{
			"plain text wraps in paragraph",
			"solve me",
			"<p>solve me</p>",
		},
		{
			"bold",
			"find the **key** word",
			"<p>find the <strong>key</strong> word</p>",
		},
		{
			"italic",
			"read *backwards*",
			"<p>read <em>backwards</em></p>",
		},
		{
			"bold wins over italic",
			"**both** and *one*",
			"<p><strong>both</strong> and <em>one</em></p>",
		},
		{
			"blank line splits paragraphs",
			"first\n\nsecond",
			"<p>first</p><p>second</p>",
		},
		{
			"single newline stays within paragraph",
			"line one\nline two",
			"<p>line oneline two</p>",
		},
		{
			"existing markup passes through",
			"<p>already formatted</p>",
			"<p>already formatted</p>",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatBody(tc.in); got != tc.want {
				t.Fatalf("FormatBody(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
