package dispatch

import "github.com/kennyrkun/dispatcher/core"

// State is the conversation owned by the orchestrator. Values are passed in
// and returned by Respond; a returned State never aliases the History of the
// one passed in.
type State struct {
	// AddressedUnit is empty or the unit that opened the current session,
	// exactly as transcribed (including any trailing space).
	AddressedUnit string
	// History always starts with the system entry.
	History []core.LLMMessage
}

func NewState(systemPrompt string) State {
	return State{History: core.NewLLMContext(systemPrompt).Messages}
}

func (s State) Addressed() bool {
	return s.AddressedUnit != ""
}

// Reset keeps the system entry and drops everything else, including the
// addressed unit.
func (s State) Reset() State {
	var history []core.LLMMessage
	if len(s.History) > 0 {
		history = []core.LLMMessage{s.History[0]}
	}
	return State{History: history}
}

func (s State) withUnit(unit string) State {
	s.History = cloneHistory(s.History)
	s.AddressedUnit = unit
	return s
}

func (s State) withUserTurn(user, assistant string) State {
	history := cloneHistory(s.History)
	history = append(history,
		core.LLMMessage{Role: core.LLMMessageRoleUser, Message: user},
		core.LLMMessage{Role: core.LLMMessageRoleAssistant, Message: assistant},
	)
	return State{AddressedUnit: s.AddressedUnit, History: history}
}

func cloneHistory(h []core.LLMMessage) []core.LLMMessage {
	out := make([]core.LLMMessage, len(h), len(h)+2)
	copy(out, h)
	return out
}
