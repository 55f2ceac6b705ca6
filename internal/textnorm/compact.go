package textnorm

import (
	"regexp"
	"strings"
)

var compactNL = regexp.MustCompile(`\n{3,}`)

// Compact is a lighter line cleanup for raw engine output: it folds CR line
// ends, squeezes space runs, drops the space before ", : .", joins line
// breaks between two Hangul syllables or digits, and turns every single
// newline not preceded by . ! ? into a space.
func Compact(text string) string {
	if text == "" {
		return ""
	}
	t := strings.ReplaceAll(text, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	t = multiSpace.ReplaceAllString(t, " ")
	t = strings.NewReplacer(" ,", ",", " :", ":", " .", ".").Replace(t)
	t = compactNL.ReplaceAllString(t, "\n\n")
	t = joinWrapped(t)
	t = softBreaks(t)
	return strings.TrimSpace(t)
}

func isHangulOrDigit(r rune) bool {
	return (r >= '가' && r <= '힣') || (r >= '0' && r <= '9')
}

// joinWrapped removes ",\n" or "\n" between two Hangul syllables or digits.
func joinWrapped(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	for i := 0; i < len(rs); i++ {
		if i > 0 && isHangulOrDigit(rs[i-1]) {
			j := i
			if rs[j] == ',' {
				j++
			}
			if j < len(rs) && rs[j] == '\n' && j+1 < len(rs) && isHangulOrDigit(rs[j+1]) {
				i = j
				continue
			}
		}
		out = append(out, rs[i])
	}
	return string(out)
}

// softBreaks replaces a lone newline with a space unless it follows
// sentence punctuation. The checks look at the input, not the output.
func softBreaks(s string) string {
	rs := []rune(s)
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = r
		if r != '\n' {
			continue
		}
		if i > 0 && strings.ContainsRune(".!?", rs[i-1]) {
			continue
		}
		if i+1 < len(rs) && rs[i+1] == '\n' {
			continue
		}
		out[i] = ' '
	}
	return string(out)
}
