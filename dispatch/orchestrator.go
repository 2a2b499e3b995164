// Package dispatch decides how the dispatcher answers a transcript.
package dispatch

import (
	"context"
	"fmt"

	"github.com/kennyrkun/dispatcher/core"
)

// Outcome is the result of one turn. Silent outcomes are valid and produce
// no transmission.
type Outcome struct {
	Text   string
	Silent bool
	Rule   string
}

type Orchestrator struct {
	vocab  Vocabulary
	llm    core.LLMEngine
	rules  []rule
	logger *core.Logger
}

func NewOrchestrator(vocab Vocabulary, llm core.LLMEngine, logger *core.Logger) *Orchestrator {
	o := &Orchestrator{
		vocab:  vocab,
		llm:    llm,
		logger: logger.OrDefault().With(map[string]interface{}{"component": "dispatch"}),
	}
	o.rules = o.buildRules()
	return o
}

func (o *Orchestrator) Vocabulary() Vocabulary {
	return o.vocab
}

// NewState starts a conversation with the vocabulary's system prompt.
func (o *Orchestrator) NewState() State {
	return NewState(o.vocab.SystemPrompt)
}

// Respond classifies a normalized transcript and returns the next state.
// When an engine call fails the error is returned together with the
// unchanged input state.
func (o *Orchestrator) Respond(ctx context.Context, state State, transcript string) (State, Outcome, error) {
	if transcript == "" {
		return state, Outcome{Silent: true, Rule: RuleUnintelligible}, nil
	}

	for _, r := range o.rules {
		if !r.match(state, transcript) {
			continue
		}
		next, out, err := r.apply(ctx, state, transcript)
		if err != nil {
			return state, Outcome{Rule: r.name}, err
		}
		o.logger.Info("transcript classified", "rule", r.name, "unit", next.AddressedUnit, "silent", out.Silent)
		return next, out, nil
	}
	// The fallback rule always matches.
	return state, Outcome{Silent: true}, nil
}

func (o *Orchestrator) complete(ctx context.Context, s State, transcript string) (State, Outcome, error) {
	if o.llm == nil {
		return s, Outcome{}, fmt.Errorf("dispatch: no response engine configured")
	}

	llmContext := core.LLMContext{Messages: cloneHistory(s.History)}
	llmContext.AddUserMessage(transcript)

	reply, err := o.llm.Complete(ctx, llmContext)
	if err != nil {
		return s, Outcome{}, fmt.Errorf("dispatch: response engine: %w", err)
	}
	return s.withUserTurn(transcript, reply), Outcome{Text: reply, Rule: RuleFallback}, nil
}
