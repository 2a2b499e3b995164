package dispatch

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Responses are the fixed reply templates. {unit} is replaced with the
// addressed unit verbatim.
type Responses struct {
	Reset        string `yaml:"reset"`
	GoAhead      string `yaml:"go_ahead"`
	Available    string `yaml:"available"`
	Unavailable  string `yaml:"unavailable"`
	UnableToCopy string `yaml:"unable_to_copy"`
}

// Vocabulary is the locale-specific data the rules match against.
type Vocabulary struct {
	ResetPhrases       []string  `yaml:"reset_phrases"`
	AddressingKeyword  string    `yaml:"addressing_keyword"`
	ReleaseKeyword     string    `yaml:"release_keyword"`
	AvailablePhrases   []string  `yaml:"available_phrases"`
	UnavailablePhrases []string  `yaml:"unavailable_phrases"`
	Responses          Responses `yaml:"responses"`
	SystemPrompt       string    `yaml:"system_prompt"`
}

// DefaultVocabulary is the built-in English radio vocabulary.
func DefaultVocabulary() Vocabulary {
	v, err := ParseVocabulary(defaultVocabulary)
	if err != nil {
		panic(fmt.Sprintf("dispatch: embedded vocabulary: %v", err))
	}
	return v
}

// LoadVocabulary reads a YAML override. Keys missing from the file keep
// their built-in values.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("dispatch: read vocabulary: %w", err)
	}
	v := DefaultVocabulary()
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("dispatch: parse vocabulary %s: %w", path, err)
	}
	v.normalize()
	return v, v.Validate()
}

func ParseVocabulary(data []byte) (Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Vocabulary{}, fmt.Errorf("dispatch: parse vocabulary: %w", err)
	}
	v.normalize()
	return v, v.Validate()
}

func (v Vocabulary) Validate() error {
	if v.AddressingKeyword == "" {
		return fmt.Errorf("dispatch: addressing_keyword is required")
	}
	if v.ReleaseKeyword == "" {
		return fmt.Errorf("dispatch: release_keyword is required")
	}
	if v.Responses.GoAhead == "" || v.Responses.Reset == "" || v.Responses.UnableToCopy == "" {
		return fmt.Errorf("dispatch: go_ahead, reset and unable_to_copy responses are required")
	}
	return nil
}

// normalize lowercases every phrase so membership is case-insensitive.
func (v *Vocabulary) normalize() {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, p := range in {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	v.ResetPhrases = lower(v.ResetPhrases)
	v.AvailablePhrases = lower(v.AvailablePhrases)
	v.UnavailablePhrases = lower(v.UnavailablePhrases)
	v.AddressingKeyword = strings.ToLower(strings.TrimSpace(v.AddressingKeyword))
	v.ReleaseKeyword = strings.ToLower(strings.TrimSpace(v.ReleaseKeyword))
}
