package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**4** is the answer", "4 is the answer"},
		{"italic", "that is *very* true", "that is very true"},
		{"bold underscore", "__loud__ and clear", "loud and clear"},
		{"inline code", "run `go version` first", "run go version first"},
		{"heading", "## Summary\nAll good.", "Summary\nAll good."},
		{"link", "see [the docs](https://example.com) for more", "see the docs for more"},
		{"plain text untouched", "just a normal sentence", "just a normal sentence"},
		{"snake case survives", "set max_history to 20", "set max_history to 20"},
		{"blank lines collapse", "one\n\n\n\ntwo", "one\n\ntwo"},
		{"surrounding whitespace trimmed", "  hello  \n", "hello"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripMarkdown(tc.in))
		})
	}
}

func TestStripMarkdownCodeFence(t *testing.T) {
	in := "Use this:\n```go\nfmt.Println(42)\n```\nDone."
	assert.Equal(t, "Use this:\nfmt.Println(42)\nDone.", StripMarkdown(in))
}

func TestStripMarkdownMixed(t *testing.T) {
	in := "# Weather\n**Sunny**, around *22C*. See [source](https://example.com/w).\n\n\nStay hydrated."
	assert.Equal(t, "Weather\nSunny, around 22C. See source.\n\nStay hydrated.", StripMarkdown(in))
}
