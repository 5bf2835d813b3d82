package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/roles"
)

const ToolAssignRole = "assignRole"

// RoleAssigner is the part of roles.Engine the tools need.
type RoleAssigner interface {
	AssignRole(ctx context.Context, roomID id.RoomID, personName, roleName string) (roles.Assignment, error)
}

// RolePrompter asks the room which role to give someone.
type RolePrompter interface {
	Prompt(ctx context.Context, roomID id.RoomID, personName string) (id.EventID, error)
}

// AssignRoleTool is the single capability declared to the assistant.
func AssignRoleTool() ToolDefinition {
	return ToolDefinition{
		Name:        ToolAssignRole,
		Description: "Assign a role to a person in the chat",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"personName": map[string]any{
					"type":        "string",
					"description": "Display name of the person to assign the role to (must match exactly)",
				},
				"roleName": map[string]any{
					"type":        "string",
					"description": "Name of the role to assign",
				},
			},
			"required": []string{"personName", "roleName"},
		},
	}
}

type assignRoleArgs struct {
	PersonName string `json:"personName"`
	RoleName   string `json:"roleName"`
}

// executeToolCalls runs every call synchronously and returns one output per call.
// Failures become error outputs so the run can continue.
func (o *Orchestrator) executeToolCalls(ctx context.Context, roomID id.RoomID, calls []ToolCall) []ToolOutput {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, ToolOutput{
			ToolCallID: call.ID,
			Output:     o.executeToolCall(ctx, roomID, call),
		})
	}
	return outputs
}

func (o *Orchestrator) executeToolCall(ctx context.Context, roomID id.RoomID, call ToolCall) string {
	log := zerolog.Ctx(ctx).With().Str("tool", call.Name).Str("tool_call_id", call.ID).Logger()
	switch call.Name {
	case ToolAssignRole:
		var args assignRoleArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			log.Warn().Err(err).Str("arguments", call.Arguments).Msg("Invalid tool arguments")
			return fmt.Sprintf("Error: invalid arguments for %s: %v", ToolAssignRole, err)
		}
		person := strings.TrimSpace(args.PersonName)
		role := strings.TrimSpace(args.RoleName)
		if person == "" {
			return "Error: personName is required"
		}
		if role == "" {
			if o.prompter == nil {
				return "Error: roleName is required"
			}
			if _, err := o.prompter.Prompt(ctx, roomID, person); err != nil {
				log.Err(err).Msg("Failed to send role prompt")
				return fmt.Sprintf("Error: failed to ask for a role: %v", err)
			}
			return fmt.Sprintf("Asked the room which role to give %s", person)
		}
		if _, err := o.assigner.AssignRole(ctx, roomID, person, role); err != nil {
			log.Err(err).Msg("Failed to assign role")
			return fmt.Sprintf("Error: failed to assign role: %v", err)
		}
		return fmt.Sprintf("Assigned %s the role %s", person, role)
	default:
		log.Warn().Msg("Assistant requested unknown tool")
		return fmt.Sprintf("Error: unknown tool %s", call.Name)
	}
}
