package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTranscript(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing period", " Unit 12 Control.", "unit 12 control"},
		{"question and newline", "Say again?\n", "say again"},
		{"inner hyphen kept", "We're 10-8!", "we're 10-8"},
		{"collapses spaces", "unit   12  control", "unit 12 control"},
		{"only punctuation", " ... ", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTranscript(tt.in))
		})
	}
}

func TestNormalizeForSpeech(t *testing.T) {
	assert.Equal(t, "copy that, unit 4", NormalizeForSpeech("**copy** that, unit 4 🚓"))
	assert.Equal(t, "see the log", NormalizeForSpeech("see [the log](http://x)"))
	assert.Equal(t, "code ok", NormalizeForSpeech("`code`   ok\n"))
}
