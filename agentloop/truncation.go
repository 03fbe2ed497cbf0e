package agentloop

import (
	"fmt"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// defaultResultCharLimit applies to actions without an entry below.
const defaultResultCharLimit = 20000

// DefaultResultCharLimits caps the recorded step result per action.
var DefaultResultCharLimits = map[string]int{
	ActionReadFile:        50000,
	ActionKnowledgeSearch: 10000,
	ActionSearchWeb:       10000,
	ActionIndexFolder:     2000,
	ActionWriteFile:       1000,
	ActionMakeDir:         1000,
	ActionMove:            1000,
	ActionUpdatePlan:      1000,
}

// DefaultTruncationModes picks the truncation mode per action.
var DefaultTruncationModes = map[string]TruncationMode{
	ActionReadFile:        TruncateHeadTail,
	ActionKnowledgeSearch: TruncateHeadTail,
	ActionSearchWeb:       TruncateHeadTail,
	ActionIndexFolder:     TruncateTail,
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Result was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Result was truncated. %d characters were removed from the middle.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateStepResult truncates an action result before it enters the audit
// log. limits overrides DefaultResultCharLimits per action.
func TruncateStepResult(result string, action string, limits map[string]int) string {
	maxChars, ok := limits[action]
	if !ok {
		maxChars, ok = DefaultResultCharLimits[action]
		if !ok {
			maxChars = defaultResultCharLimit
		}
	}
	mode, ok := DefaultTruncationModes[action]
	if !ok {
		mode = TruncateHeadTail
	}
	return TruncateOutput(result, maxChars, mode)
}
