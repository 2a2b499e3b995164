package dispatch

import (
	"context"
	"strings"
)

// Rule names, reported in Outcome.Rule and the turn log.
const (
	RuleReset          = "reset"
	RuleAddressing     = "addressing"
	RuleAvailable      = "available"
	RuleUnavailable    = "unavailable"
	RuleRelease        = "release"
	RuleUnableToCopy   = "unable_to_copy"
	RuleFallback       = "fallback"
	RuleUnintelligible = "unintelligible"
)

// rule is one guarded branch. The first rule whose match returns true
// decides the turn.
type rule struct {
	name  string
	match func(s State, transcript string) bool
	apply func(ctx context.Context, s State, transcript string) (State, Outcome, error)
}

type phraseSet map[string]struct{}

func newPhraseSet(phrases []string) phraseSet {
	set := make(phraseSet, len(phrases))
	for _, p := range phrases {
		set[p] = struct{}{}
	}
	return set
}

func (p phraseSet) has(transcript string) bool {
	_, ok := p[transcript]
	return ok
}

func fill(template, unit string) string {
	return strings.ReplaceAll(template, "{unit}", unit)
}

// buildRules orders the rules by priority: reset, addressing, the addressed
// session, then the generative fallback.
func (o *Orchestrator) buildRules() []rule {
	v := o.vocab
	resets := newPhraseSet(v.ResetPhrases)
	available := newPhraseSet(v.AvailablePhrases)
	unavailable := newPhraseSet(v.UnavailablePhrases)

	reply := func(name, text string) func(context.Context, State, string) (State, Outcome, error) {
		return func(_ context.Context, s State, _ string) (State, Outcome, error) {
			return s, Outcome{Text: fill(text, s.AddressedUnit), Rule: name}, nil
		}
	}

	return []rule{
		{
			name:  RuleReset,
			match: func(_ State, t string) bool { return resets.has(t) },
			apply: func(_ context.Context, s State, _ string) (State, Outcome, error) {
				return s.Reset(), Outcome{Text: v.Responses.Reset, Rule: RuleReset}, nil
			},
		},
		{
			name: RuleAddressing,
			match: func(_ State, t string) bool {
				return strings.HasSuffix(t, v.AddressingKeyword) && o.unitOf(t) != ""
			},
			apply: func(_ context.Context, s State, t string) (State, Outcome, error) {
				next := s.Reset().withUnit(o.unitOf(t))
				return next, Outcome{Text: v.Responses.GoAhead, Rule: RuleAddressing}, nil
			},
		},
		{
			name:  RuleAvailable,
			match: func(s State, t string) bool { return s.Addressed() && available.has(t) },
			apply: reply(RuleAvailable, v.Responses.Available),
		},
		{
			name:  RuleUnavailable,
			match: func(s State, t string) bool { return s.Addressed() && unavailable.has(t) },
			apply: reply(RuleUnavailable, v.Responses.Unavailable),
		},
		{
			name:  RuleRelease,
			match: func(s State, t string) bool { return s.Addressed() && strings.HasSuffix(t, v.ReleaseKeyword) },
			apply: func(_ context.Context, s State, _ string) (State, Outcome, error) {
				return s.withUnit(""), Outcome{Silent: true, Rule: RuleRelease}, nil
			},
		},
		{
			name:  RuleUnableToCopy,
			match: func(s State, _ string) bool { return s.Addressed() },
			apply: reply(RuleUnableToCopy, v.Responses.UnableToCopy),
		},
		{
			name:  RuleFallback,
			match: func(State, string) bool { return true },
			apply: o.complete,
		},
	}
}

// unitOf is everything before the addressing keyword, untrimmed.
func (o *Orchestrator) unitOf(transcript string) string {
	return strings.TrimSuffix(transcript, o.vocab.AddressingKeyword)
}
