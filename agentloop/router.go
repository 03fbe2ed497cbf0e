package agentloop

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// RouteContext is what deterministic routes may do to the session.
type RouteContext interface {
	// Invoke runs an action through the registry and returns its result.
	Invoke(ctx context.Context, action string, args map[string]any) any
	// RecordStep appends one execution step.
	RecordStep(action string, args map[string]any, result any)
	// Complete ends the run with summary as the final output.
	Complete(summary string)
}

// RouteRule handles one known intent. Apply returns false when text does
// not match; on a match it performs the whole intent through rc.
type RouteRule struct {
	Name  string
	Apply func(ctx context.Context, rc RouteContext, text string) bool
}

// Router tries its rules in order; the first match wins.
type Router struct {
	rules []RouteRule
}

// NewRouter creates a router with the given rules.
func NewRouter(rules ...RouteRule) *Router {
	return &Router{rules: rules}
}

// DefaultRouter recognizes the compound folder task and the
// "index folder" and "search kg for" prefixes.
func DefaultRouter() *Router {
	return NewRouter(
		CompoundFileRule(),
		PrefixRule("index_folder", "index folder ", ActionIndexFolder, "path"),
		PrefixRule("search_kg", "search kg for ", ActionKnowledgeSearch, "query"),
	)
}

// Add appends a rule after the existing ones.
func (r *Router) Add(rule RouteRule) {
	r.rules = append(r.rules, rule)
}

// Route applies the first matching rule and returns its name.
func (r *Router) Route(ctx context.Context, rc RouteContext, text string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range r.rules {
		if rule.Apply(ctx, rc, text) {
			return rule.Name, true
		}
	}
	return "", false
}

var (
	folderNamedPattern = regexp.MustCompile(`(?i)folder\s+named\s+(?:'([^'\n]+)'|"([^"\n]+)"|(\S+))`)
	contentPattern     = regexp.MustCompile(`(?i)content\s+['"]([^'"]+)['"]`)
	readWordPattern    = regexp.MustCompile(`\bread\b`)
	backWordPattern    = regexp.MustCompile(`\bback\b`)
)

// compoundFileTask is a parsed "create folder ... README.md ... read back" request.
type compoundFileTask struct {
	folder  string
	content string
}

func parseCompoundFileTask(text string) (compoundFileTask, bool) {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "create") || !strings.Contains(lower, "folder") ||
		!strings.Contains(lower, "readme.md") ||
		!readWordPattern.MatchString(lower) || !backWordPattern.MatchString(lower) {
		return compoundFileTask{}, false
	}
	fm := folderNamedPattern.FindStringSubmatch(text)
	cm := contentPattern.FindStringSubmatch(text)
	if fm == nil || cm == nil {
		return compoundFileTask{}, false
	}
	folder := strings.TrimRight(strings.TrimSpace(fm[1]+fm[2]+fm[3]), ".,;:")
	if folder == "" {
		return compoundFileTask{}, false
	}
	return compoundFileTask{folder: folder, content: cm[1]}, true
}

// CompoundFileRule creates a folder, writes README.md with the quoted
// content, reads it back, and completes with the content as summary.
func CompoundFileRule() RouteRule {
	return RouteRule{
		Name: "compound_file_task",
		Apply: func(ctx context.Context, rc RouteContext, text string) bool {
			task, ok := parseCompoundFileTask(text)
			if !ok {
				return false
			}
			readme := filepath.Join(task.folder, "README.md")

			rc.Invoke(ctx, ActionUpdatePlan, map[string]any{"plan": []any{
				fmt.Sprintf("Create folder %s", task.folder),
				fmt.Sprintf("Write %s", readme),
				fmt.Sprintf("Read %s", readme),
			}})
			rc.Invoke(ctx, ActionMakeDir, map[string]any{"path": task.folder})
			rc.Invoke(ctx, ActionWriteFile, map[string]any{"path": readme, "content": task.content})
			readArgs := map[string]any{"path": readme}
			result := rc.Invoke(ctx, ActionReadFile, readArgs)

			rc.RecordStep(ActionReadFile, readArgs, result)
			rc.Complete(readContent(result))
			return true
		},
	}
}

// readContent extracts the file content from an fs_read result.
func readContent(result any) string {
	if m, ok := result.(map[string]any); ok {
		if content, ok := m["content"].(string); ok {
			return content
		}
	}
	return formatResult(result)
}

// PrefixRule routes text starting with prefix (case-insensitive) to action,
// passing the remainder as argument key, and completes with the result.
func PrefixRule(name, prefix, action, key string) RouteRule {
	return RouteRule{
		Name: name,
		Apply: func(ctx context.Context, rc RouteContext, text string) bool {
			trimmed := strings.TrimSpace(text)
			if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
				return false
			}
			args := map[string]any{key: strings.TrimSpace(trimmed[len(prefix):])}
			result := rc.Invoke(ctx, action, args)
			rc.RecordStep(action, args, result)
			rc.Complete(formatResult(result))
			return true
		},
	}
}
