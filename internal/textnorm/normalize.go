// Package textnorm turns line-oriented recognizer output into
// sentence-structured text. Everything here is a pure function of its input.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// a numbered or bulleted list item; never merged into prose
	listBullet = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,3}[.)])\s+`)
	// sentence end: terminal punctuation with an optional closing quote, or a
	// Hangul syllable followed by the declarative/polite ending 다 or 요
	sentenceEnd = regexp.MustCompile(`(?:[.?!…]+["”']?|[가-힣][다요]\s*)$`)
	hyphenBreak = regexp.MustCompile(`([\p{L}\p{N}_])-\n([\p{L}\p{N}_])`)
	spaceBefore = regexp.MustCompile(`\s+([,.;:!?%)\]”])`)
	spaceAfter  = regexp.MustCompile(`([(\[“])\s+`)
	multiSpace  = regexp.MustCompile(`[ \t]{2,}`)
	multiNL     = regexp.MustCompile(`\n{3,}`)
	hangulStart = regexp.MustCompile(`^[가-힣]`)
)

// maxPasses bounds the fixpoint loop. Each pass after the first only
// shortens the text, so real inputs settle in two or three passes.
const maxPasses = 16

// Normalize applies NFKC, rejoins hyphenated line breaks, reflows lines into
// sentences, fixes spacing around punctuation and collapses whitespace. The
// pass repeats until the output is stable, so Normalize(Normalize(s)) equals
// Normalize(s) for every s.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	cur := raw
	for i := 0; i < maxPasses; i++ {
		next := pass(cur)
		if next == cur {
			return next
		}
		cur = next
	}
	return cur
}

func pass(text string) string {
	if text == "" {
		return ""
	}
	t := norm.NFKC.String(text)
	t = hyphenBreak.ReplaceAllString(t, "$1$2")

	t = strings.Join(reflow(splitLines(t)), "\n")

	t = spaceBefore.ReplaceAllString(t, "$1")
	t = spaceAfter.ReplaceAllString(t, "$1")
	t = multiSpace.ReplaceAllString(t, " ")
	t = multiNL.ReplaceAllString(t, "\n\n")
	return strings.TrimSpace(t)
}

// reflow merges continuation lines into the sentence buffer and flushes list
// items on their own. Blank lines never reach the output.
func reflow(lines []string) []string {
	var out []string
	var buf string

	flush := func() {
		if s := strings.TrimSpace(buf); s != "" {
			out = append(out, s)
		}
		buf = ""
	}

	for _, ln := range lines {
		ln = strings.TrimRightFunc(ln, unicode.IsSpace)

		if listBullet.MatchString(ln) {
			flush()
			out = append(out, strings.TrimSpace(ln))
			continue
		}
		if buf == "" {
			buf = ln
			continue
		}
		if !sentenceEnd.MatchString(buf) && continues(ln) {
			buf = buf + " " + strings.TrimSpace(ln)
			continue
		}
		flush()
		buf = ln
	}
	flush()
	return out
}

// continues reports whether ln reads as the rest of an unfinished sentence.
func continues(ln string) bool {
	if ln == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(ln)
	switch {
	case unicode.IsLower(r), unicode.IsDigit(r):
		return true
	case strings.ContainsRune("([{\"'", r):
		return true
	}
	return hangulStart.MatchString(ln)
}

// splitLines splits on every line boundary a recognizer may emit, dropping
// a trailing empty line the way a line reader would.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			return '\n'
		}
		return r
	}, s)
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
