package agentloop

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformedArguments is returned when neither JSON nor the permissive
// literal parse accepts an argument block.
var ErrMalformedArguments = errors.New("malformed action arguments")

const (
	callStartMarker = "<start_function_call>"
	callEndMarker   = "<end_function_call>"
)

var (
	functionCallPattern = regexp.MustCompile(`(?s)<start_function_call>\s*call:([\w_]+)\s*(\{.*?\})\s*<end_function_call>`)
	functionBlockPattern = regexp.MustCompile(`(?s)<start_function_call>.*?<end_function_call>`)

	escapedBraces = strings.NewReplacer(`{"{"}`, "{", `{"}"}`, "}")

	templateNames = map[string]bool{"tool_name": true, "tool_name{args}": true}
	templateArgs  = map[string]bool{"{args}": true, "{arg:value}": true}

	completionMarkers = []string{"done", "task completed"}
)

// ProposedAction is an action block extracted from decision output.
type ProposedAction struct {
	Name    string
	RawArgs string
}

// ExtractAction returns the first well-formed action block in raw.
func ExtractAction(raw string) (ProposedAction, bool) {
	m := functionCallPattern.FindStringSubmatch(raw)
	if m == nil {
		return ProposedAction{}, false
	}
	return ProposedAction{
		Name:    m[1],
		RawArgs: escapedBraces.Replace(m[2]),
	}, true
}

// FirstFunctionBlock trims decision output to its first function-call
// block, or returns the trimmed text when there is none.
func FirstFunctionBlock(raw string) string {
	if block := functionBlockPattern.FindString(raw); block != "" {
		return strings.TrimSpace(block)
	}
	return strings.TrimSpace(raw)
}

// IsTemplateArtifact reports whether the decision source copied the format
// description instead of choosing a real action.
func (p ProposedAction) IsTemplateArtifact() bool {
	return templateNames[p.Name] || templateArgs[strings.TrimSpace(p.RawArgs)]
}

// ParseArguments decodes an argument block. Strict JSON is tried first; a
// YAML flow mapping covers single quotes and bare words. The result is
// always normalized to JSON types.
func ParseArguments(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args, nil
	}

	var loose map[string]any
	if err := yaml.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if loose == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedArguments)
	}
	data, err := json.Marshal(loose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	args = nil
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	return args, nil
}

// IsCompletionText reports whether pure-text output declares the task done.
func IsCompletionText(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range completionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
