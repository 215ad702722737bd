package gateway

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const whitespaceRegexPattern = `\s+`

// Normalizer cleans synthesis text so the model sees plain punctuation and a
// terminated sentence.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	punctuation       *strings.Replacer
}

// NewNormalizer creates a Normalizer with its patterns compiled.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctuation: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize collapses whitespace, replaces typographic quotes and dashes, and
// terminates the text with a sentence-ending mark.
func (n *Normalizer) Normalize(text string) string {
	text = n.whitespacePattern.ReplaceAllString(text, " ")
	text = n.punctuation.Replace(strings.TrimSpace(text))

	return ensureSentenceEnding(text)
}

func ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(text)
	if !unicode.IsPunct(lastChar) {
		return text + "."
	}

	switch lastChar {
	case '.', '!', '?', '"', '\'':
		return text
	case ',', ';', ':':
		return strings.TrimRightFunc(text, unicode.IsPunct) + "."
	default:
		return text + "."
	}
}
