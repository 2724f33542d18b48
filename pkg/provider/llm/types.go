package llm

import "github.com/MrWong99/singer-orchestrator/pkg/types"

// Message, ToolCall, ToolDefinition, and ModelCapabilities are aliases onto
// pkg/types rather than distinct definitions: session history, the tool
// router, and the orchestrator loop all need to pass these values across
// package boundaries without importing this package (which would create an
// import cycle back through the concrete provider backends), so pkg/types
// is the single source of truth and this package re-exports it under the
// names its existing callers already use.
type (
	Message           = types.Message
	ToolCall          = types.ToolCall
	ToolDefinition    = types.ToolDefinition
	ModelCapabilities = types.ModelCapabilities
)
