package agentloop

import (
	"fmt"
	"strings"
)

// maxPromptSteps is how many recent steps the decision prompt repeats.
const maxPromptSteps = 3

const maxPromptResultChars = 300

// SystemPrompt states the output rules for the decision source.
const SystemPrompt = `You are Aethel, a local OS agent.

STRICT OUTPUT RULES:
- Output exactly ONE function call block.
- Output nothing else.
- Tool name must be one of AVAILABLE TOOLS.
- Arguments must be valid JSON (double quotes).
- If there are no arguments, use {}.

BEHAVIOR:
- Never call tools that are not listed in AVAILABLE TOOLS.
- Choose the tool that best matches the user request.
- For multi-step requests, first call update_plan, then execute the next concrete step.`

const strictInstruction = `INSTRUCTION (STRICT):
- Reply with exactly ONE function call block.
- Use only a tool name from AVAILABLE TOOLS.
- Arguments MUST be valid JSON (double quotes for keys/strings).
- If there are no arguments, use an empty object: {}.
- Never output placeholders like arg/value/tool_name; use real parameter names and values.
- Output NOTHING except the function call block.

Example format:
<start_function_call>call:fs_read{"path": "file.txt"}<end_function_call>`

// BuildDecisionPrompt renders the user-side prompt for one decision: the
// available tools, current plan, recent steps, and the pending request.
func BuildDecisionPrompt(state *SessionState, schema string) string {
	var sb strings.Builder

	sb.WriteString("AVAILABLE TOOLS:\n")
	sb.WriteString(schema)
	sb.WriteString("\n\n")

	if len(state.Plan) > 0 {
		sb.WriteString("CURRENT PLAN:\n")
		for _, item := range state.Plan {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", item.ID, item.Status, item.Description)
		}
		sb.WriteString("\n")
	}

	if n := len(state.Steps); n > 0 {
		sb.WriteString("RECENT STEPS:\n")
		start := n - maxPromptSteps
		if start < 0 {
			start = 0
		}
		for _, step := range state.Steps[start:] {
			fmt.Fprintf(&sb, "%d. %s -> %s\n", step.StepID, step.Action, clip(step.Result, maxPromptResultChars))
		}
		sb.WriteString("\n")
	}

	request := state.Interaction.LastUserResponse
	if request == "" {
		request = "No input."
	}
	sb.WriteString("USER REQUEST:\n")
	sb.WriteString(request)
	sb.WriteString("\n\n")
	sb.WriteString(strictInstruction)
	return sb.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
