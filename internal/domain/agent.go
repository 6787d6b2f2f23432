package domain

// AgentConfig describes one agent persona. It is created once at startup
// and never mutated; the execution engine is reused unchanged across
// personas that differ only in these fields.
type AgentConfig struct {
	Name            string   `json:"name"            yaml:"name"`
	SystemPrompt    string   `json:"system_prompt"   yaml:"system_prompt"`
	Tools           []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	MaxIterations   int      `json:"max_iterations"  yaml:"max_iterations"`
	MaxTokens       int      `json:"max_tokens,omitempty"       yaml:"max_tokens,omitempty"`
	CheckpointEvery int      `json:"checkpoint_every,omitempty" yaml:"checkpoint_every,omitempty"`
}

// ExecutionStatus is the engine's lifecycle state. Running never re-enters
// idle; complete and error are terminal.
type ExecutionStatus string

const (
	StatusIdle     ExecutionStatus = "idle"
	StatusRunning  ExecutionStatus = "running"
	StatusComplete ExecutionStatus = "complete"
	StatusError    ExecutionStatus = "error"
)

// AgentResult is the terminal artifact of a run. Every terminal path —
// completion, fatal error, exhausted iteration budget, requested stop —
// produces the same shape, so consumers only inspect Success.
type AgentResult struct {
	Success     bool        `json:"success"`
	Summary     string      `json:"summary"`
	Discoveries []Discovery `json:"discoveries"`
	Messages    []Message   `json:"messages"`
	Usage       Usage       `json:"usage"`
	Iterations  int         `json:"iterations"`
}
