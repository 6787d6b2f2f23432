package domain

// CheckpointData is the minimum snapshot needed to resume a run without
// re-issuing any completed transport call. Iteration records the last fully
// completed iteration: all of its messages are present in Messages, so a
// resumed engine continues with the next iteration and a turn interrupted
// by an error is re-issued rather than skipped.
type CheckpointData struct {
	RunID       string      `json:"run_id"`
	Agent       string      `json:"agent"`
	Messages    []Message   `json:"messages"`
	Discoveries []Discovery `json:"discoveries"`
	Usage       Usage       `json:"usage"`
	Iteration   int         `json:"iteration"`
}

// CheckpointFunc receives checkpoint snapshots from the engine. Calls are
// best-effort and fire-and-forget: the engine does not block on, or react
// to, persistence failing.
type CheckpointFunc func(cp CheckpointData)
