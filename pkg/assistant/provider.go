package assistant

import "context"

// RunStatus mirrors the provider's run lifecycle.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether a run in this status will never change again.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// ToolCall is a pending function call requested by a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput answers a ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Run is a snapshot of a run's state.
type Run struct {
	ID        string
	Status    RunStatus
	ToolCalls []ToolCall

	// Set for failed runs.
	ErrorCode    string
	ErrorMessage string
}

// Message is a thread message. Text is the text of the first content block;
// HasText is false when that block has no text payload.
type Message struct {
	ID      string
	Role    string
	Text    string
	HasText bool
}

// ToolDefinition declares a function the assistant may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Definition describes the assistant to create.
type Definition struct {
	Name         string
	Model        string
	Instructions string
	Tools        []ToolDefinition
}

// Provider is the thread/run surface of an assistants API.
type Provider interface {
	CreateAssistant(ctx context.Context, def Definition) (string, error)
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// LatestAssistantMessage returns the newest message authored by the assistant.
	LatestAssistantMessage(ctx context.Context, threadID string) (Message, bool, error)
}
