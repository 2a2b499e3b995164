package text

import (
	"regexp"
	"strings"
)

type INormalizer interface {
	Normalize(text string) string
}

// transcriptCutset is what speech engines tend to wrap around a short radio call.
const transcriptCutset = " .,!?\n\t\r"

// TranscriptNormalizer turns raw engine output into the comparable form the
// dispatcher rules match against.
type TranscriptNormalizer struct{}

// Normalize trims surrounding punctuation and whitespace, lowercases, and
// collapses inner runs of whitespace. Inner punctuation is kept so that
// "10-8" still matches.
func (TranscriptNormalizer) Normalize(input string) string {
	input = strings.Trim(input, transcriptCutset)
	input = strings.ToLower(input)
	return multipleSpacesRegex.ReplaceAllString(input, " ")
}

// NormalizeTranscript is TranscriptNormalizer{}.Normalize.
func NormalizeTranscript(input string) string {
	return TranscriptNormalizer{}.Normalize(input)
}

// SpeechNormalizer cleans model output before it reaches a voice engine.
type SpeechNormalizer struct{}

func (SpeechNormalizer) Normalize(input string) string {
	input = removeMarkdown(input)
	input = removeEmojiRegex.ReplaceAllString(input, "")
	input = multipleSpacesRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// NormalizeForSpeech is SpeechNormalizer{}.Normalize.
func NormalizeForSpeech(input string) string {
	return SpeechNormalizer{}.Normalize(input)
}

var markdownMarkers = strings.NewReplacer(
	"**", "",
	"__", "",
	"~~", "",
	"`", "",
	"*", "",
	"#", "",
)

func removeMarkdown(input string) string {
	input = markdownLinkRegex.ReplaceAllString(input, "$1")
	return markdownMarkers.Replace(input)
}

var (
	removeEmojiRegex    = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}\s$+<=>^|~]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
	markdownLinkRegex   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)
