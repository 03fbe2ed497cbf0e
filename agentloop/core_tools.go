package agentloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/aethel/knowledge"
	"github.com/martinemde/aethel/search"
)

// Action names of the assistant tool set.
const (
	ActionAskUser         = "ask_user"
	ActionUpdatePlan      = "update_plan"
	ActionIndexFolder     = "index_folder"
	ActionKnowledgeSearch = "kg_search"
	ActionReadFile        = "fs_read"
	ActionWriteFile       = "fs_write"
	ActionMakeDir         = "fs_mkdir"
	ActionMove            = "fs_move"
	ActionOpenApp         = "mac_open_app"
	ActionSearchWeb       = "search_web"
)

// WebSearcher is the backend of search_web.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// FolderWatcher is told about each newly indexed folder.
type FolderWatcher interface {
	Watch(root string) error
}

// ToolDeps are the collaborators the assistant tools delegate to. Nil
// members make the corresponding action report an error result.
type ToolDeps struct {
	Index   *knowledge.Index
	Watcher FolderWatcher
	Web     WebSearcher
}

// RegisterCoreTools registers the assistant tool set in schema order.
func RegisterCoreTools(reg *ActionRegistry, deps ToolDeps) error {
	defs := []ActionDefinition{
		{
			Name:        ActionAskUser,
			Description: "Ask the user a clarifying question.",
			Params:      []Param{{Name: "question", Type: "string", Required: true}},
			Handler:     askUser,
		},
		{
			Name:        ActionUpdatePlan,
			Description: "Replace the plan with an ordered list of items.",
			Params:      []Param{{Name: "plan", Type: "array", Required: true, Example: []string{"item1", "item2"}}},
			Handler:     updatePlan,
		},
		{
			Name:        ActionIndexFolder,
			Description: "Index the text files of a folder for kg_search.",
			Params:      []Param{{Name: "path", Type: "string", Required: true}},
			Handler:     indexFolder(deps.Index, deps.Watcher),
		},
		{
			Name:        ActionKnowledgeSearch,
			Description: "Search the indexed folder.",
			Params:      []Param{{Name: "query", Type: "string", Required: true}},
			Handler:     knowledgeSearch(deps.Index),
		},
		{
			Name:        ActionReadFile,
			Description: "Read a text file.",
			Params:      []Param{{Name: "path", Type: "string", Required: true}},
			Handler:     readFile,
		},
		{
			Name:        ActionWriteFile,
			Description: "Write a text file, creating parent directories.",
			Params: []Param{
				{Name: "path", Type: "string", Required: true},
				{Name: "content", Type: "string", Required: true},
			},
			Handler: writeFile,
		},
		{
			Name:        ActionMakeDir,
			Description: "Create a directory.",
			Params:      []Param{{Name: "path", Type: "string", Required: true}},
			Handler:     makeDir,
		},
		{
			Name:        ActionMove,
			Description: "Move or rename a file or directory.",
			Params: []Param{
				{Name: "src", Type: "string", Required: true},
				{Name: "dst", Type: "string", Required: true},
			},
			Handler: move,
		},
		{
			Name:        ActionOpenApp,
			Description: "Open a desktop application by name.",
			Params:      []Param{{Name: "app_name", Type: "string", Required: true}},
			Handler:     openApp,
		},
		{
			Name:        ActionSearchWeb,
			Description: "Search the web and return the top results.",
			Params:      []Param{{Name: "query", Type: "string", Required: true}},
			Handler:     searchWeb(deps.Web),
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(inv *Invocation, key string) (string, error) {
	s, ok := inv.String(key)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func askUser(_ context.Context, inv *Invocation) (any, error) {
	question, _ := inv.String("question")
	return map[string]any{"special": ActionAskUser, "question": question}, nil
}

// planFromArg accepts a list of strings or {description, status} objects.
func planFromArg(raw any) ([]PlanItem, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("invalid_plan_format")
	}
	items := make([]PlanItem, 0, len(list))
	for i, entry := range list {
		item := PlanItem{ID: i + 1, Status: "pending"}
		if m, ok := entry.(map[string]any); ok {
			if _, has := m["description"]; !has {
				item.Description = fmt.Sprint(m)
			} else {
				item.Description = fmt.Sprint(m["description"])
				if status, ok := m["status"].(string); ok && status != "" {
					item.Status = status
				}
			}
		} else {
			item.Description = fmt.Sprint(entry)
		}
		items = append(items, item)
	}
	return items, nil
}

func updatePlan(_ context.Context, inv *Invocation) (any, error) {
	items, err := planFromArg(inv.Args["plan"])
	if err != nil {
		return nil, err
	}
	inv.Update(func(s *SessionState) {
		s.Plan = items
	})
	return map[string]any{"status": "plan_updated", "count": len(items)}, nil
}

func indexFolder(index *knowledge.Index, watcher FolderWatcher) ActionHandler {
	return func(ctx context.Context, inv *Invocation) (any, error) {
		if index == nil {
			return nil, errors.New("knowledge index not configured")
		}
		path, err := stringArg(inv, "path")
		if err != nil {
			return nil, err
		}
		root := inv.Env.ResolvePath(path)
		stats, err := index.IndexFolder(ctx, root)
		if err != nil {
			return nil, err
		}
		watching := false
		if watcher != nil {
			watching = watcher.Watch(root) == nil
		}
		now := time.Now()
		inv.Update(func(s *SessionState) {
			for _, p := range s.Knowledge.IndexedPaths {
				if p == path {
					s.Knowledge.LastIndexTime = &now
					return
				}
			}
			s.Knowledge.IndexedPaths = append(s.Knowledge.IndexedPaths, path)
			s.Knowledge.LastIndexTime = &now
		})
		return map[string]any{
			"status":        "indexed",
			"files_seen":    stats.FilesSeen,
			"files_indexed": stats.FilesIndexed,
			"watching":      watching,
		}, nil
	}
}

func knowledgeSearch(index *knowledge.Index) ActionHandler {
	return func(_ context.Context, inv *Invocation) (any, error) {
		if index == nil {
			return nil, knowledge.ErrIndexEmpty
		}
		query, err := stringArg(inv, "query")
		if err != nil {
			return nil, err
		}
		hits, err := index.Search(query, knowledge.DefaultSearchLimit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": hits}, nil
	}
}

func readFile(_ context.Context, inv *Invocation) (any, error) {
	path, err := stringArg(inv, "path")
	if err != nil {
		return nil, err
	}
	if !inv.Env.FileExists(path) {
		return nil, errors.New("File not found")
	}
	content, err := inv.Env.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": content}, nil
}

func writeFile(_ context.Context, inv *Invocation) (any, error) {
	path, err := stringArg(inv, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(inv, "content")
	if err != nil {
		return nil, err
	}
	if err := inv.Env.WriteFile(path, content); err != nil {
		return nil, err
	}
	return map[string]any{"status": "success"}, nil
}

func makeDir(_ context.Context, inv *Invocation) (any, error) {
	path, err := stringArg(inv, "path")
	if err != nil {
		return nil, err
	}
	if err := inv.Env.MakeDir(path); err != nil {
		return nil, err
	}
	return map[string]any{"status": "created", "path": path}, nil
}

func move(_ context.Context, inv *Invocation) (any, error) {
	src, err := stringArg(inv, "src")
	if err != nil {
		return nil, err
	}
	dst, err := stringArg(inv, "dst")
	if err != nil {
		return nil, err
	}
	if err := inv.Env.Move(src, dst); err != nil {
		return nil, err
	}
	return map[string]any{"status": "moved"}, nil
}

func openApp(ctx context.Context, inv *Invocation) (any, error) {
	name, err := stringArg(inv, "app_name")
	if err != nil {
		return nil, err
	}
	if err := inv.Env.OpenApplication(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"status": "opened", "app_name": name}, nil
}

func searchWeb(web WebSearcher) ActionHandler {
	return func(ctx context.Context, inv *Invocation) (any, error) {
		if web == nil {
			return nil, errors.New("web search not configured")
		}
		query, err := stringArg(inv, "query")
		if err != nil {
			return nil, err
		}
		results, err := web.Search(ctx, query, search.Options{Count: 5})
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil
	}
}
