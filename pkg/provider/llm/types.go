package llm

// Message is one turn in a conversation history.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	Content string

	// Name optionally labels the participant, useful when clinician and
	// patient turns share a transcript.
	Name string
}

// ModelCapabilities are the limits of a configured model.
type ModelCapabilities struct {
	// ContextWindow is the token budget for input plus output.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	SupportsStreaming bool
}
