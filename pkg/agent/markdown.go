package agent

import (
	"regexp"
	"strings"
)

var (
	fenceRe     = regexp.MustCompile("(?m)^```[a-zA-Z0-9]*[ \t]*$\n?")
	inlineRe    = regexp.MustCompile("`([^`]*)`")
	boldRe      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe    = regexp.MustCompile(`\*([^*]+)\*`)
	boldUnderRe = regexp.MustCompile(`__([^_]+)__`)
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	linkRe      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown removes presentation markup from model output so replies
// read as plain conversational text: bold/italic/code markers and code
// fences are dropped (content kept), headings lose their hashes, links
// collapse to their text, and runs of blank lines shrink to one.
// Single underscores are left alone so identifiers like snake_case
// survive.
func StripMarkdown(text string) string {
	out := fenceRe.ReplaceAllString(text, "")
	out = inlineRe.ReplaceAllString(out, "$1")
	out = boldRe.ReplaceAllString(out, "$1")
	out = italicRe.ReplaceAllString(out, "$1")
	out = boldUnderRe.ReplaceAllString(out, "$1")
	out = headingRe.ReplaceAllString(out, "")
	out = linkRe.ReplaceAllString(out, "$1")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
