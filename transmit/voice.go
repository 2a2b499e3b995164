package transmit

// VoiceProfile is a named speaker: which engine says it, how, and how loud.
type VoiceProfile struct {
	Name       string  `json:"name"`
	Engine     string  `json:"engine"` // key into the pipeline's engines
	Voice      string  `json:"voice"`  // engine voice identity
	Speed      float64 `json:"speed"`  // engine speaking rate, larger is faster
	Tempo      float64 `json:"tempo"`  // player tempo applied on top
	Gain       float64 `json:"gain"`
	Narrowband bool    `json:"narrowband"`
	// Persona frames this voice for idle chat.
	Persona string `json:"persona"`
}
