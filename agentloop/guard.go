package agentloop

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// rejectionNudge is appended to the pending user text after a forbidden
// action is proposed.
const rejectionNudge = "\n\nIMPORTANT: You must only call a tool from AVAILABLE TOOLS. Do NOT call the forbidden tool."

var openIntentPattern = regexp.MustCompile(`\b(open|launch|start|run)\b`)

type appAlias struct {
	key  string
	name string
}

// appAliases is matched in order against the lowercased user text.
var appAliases = []appAlias{
	{"notes", "Notes"},
	{"note", "Notes"},
	{"safari", "Safari"},
	{"chrome", "Google Chrome"},
	{"google chrome", "Google Chrome"},
	{"finder", "Finder"},
	{"terminal", "Terminal"},
	{"iterm", "iTerm"},
	{"calendar", "Calendar"},
	{"spotify", "Spotify"},
}

var placeholderPaths = map[string]bool{
	"file.txt":      true,
	"path/to/file":  true,
	"your_file.txt": true,
}

var titleCaser = cases.Title(language.Und)

// HasOpenIntent reports whether text explicitly asks to open something.
func HasOpenIntent(text string) bool {
	return openIntentPattern.MatchString(strings.ToLower(text))
}

// ExcludedActions returns the actions hidden from the decision source for
// the given user text.
func ExcludedActions(userText string) []string {
	if HasOpenIntent(userText) {
		return nil
	}
	return []string{ActionOpenApp}
}

// ResolveApplicationName derives the application to open from the user's
// own words: an alias match first, then the words after a leading "open ".
func ResolveApplicationName(userText string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(userText))
	for _, alias := range appAliases {
		if strings.Contains(lower, alias.key) {
			return alias.name, true
		}
	}
	// Later lines may be rejection nudges, so the remainder stops at the
	// first line break.
	line, _, _ := strings.Cut(strings.TrimSpace(userText), "\n")
	if strings.HasPrefix(strings.ToLower(line), "open ") {
		_, rest, _ := strings.Cut(line, " ")
		if candidate := strings.TrimSpace(rest); candidate != "" {
			return titleCaser.String(candidate), true
		}
	}
	return "", false
}

// checkReadPath returns a clarification request when a file-read path is
// missing, a known placeholder, or does not exist.
func checkReadPath(args map[string]any, env ExecutionEnvironment) *UIRequest {
	path, _ := args["path"].(string)
	if strings.TrimSpace(path) == "" || placeholderPaths[strings.TrimSpace(path)] {
		return &UIRequest{
			Kind:    "prompt",
			Title:   "Input Needed",
			Message: "Which file path should I read? (e.g., notes/todo.md)",
			Options: []string{},
		}
	}
	if !env.FileExists(path) {
		return &UIRequest{
			Kind:    "prompt",
			Title:   "File Not Found",
			Message: fmt.Sprintf("File not found: %s. Provide an existing path.", path),
			Options: []string{},
		}
	}
	return nil
}

// askUserRequest builds the clarification for an ask_user action.
func askUserRequest(args map[string]any) *UIRequest {
	question, _ := args["question"].(string)
	if question == "" {
		question = "Continue?"
	}
	return &UIRequest{
		Kind:    "prompt",
		Title:   "Input Needed",
		Message: question,
		Options: []string{"Yes", "No"},
	}
}
