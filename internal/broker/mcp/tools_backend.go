package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/backend"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/yosida95/uritemplate/v3"
)

// Backend is what pass-through tools need from the backend client.
type Backend interface {
	Do(ctx context.Context, caller backend.Caller, req backend.Request) (json.RawMessage, error)
}

// RouteTool describes a tool that forwards its arguments to one backend
// route. Template variables are taken from the arguments; the rest become
// the query string for GET and the JSON body otherwise.
type RouteTool struct {
	Name        string
	Description string
	Scope       string
	Method      string
	Route       string
	Schema      *openapi3.Schema
}

// Tool compiles r into a catalog tool calling b.
func (r RouteTool) Tool(b Backend) (Tool, error) {
	tmpl, err := uritemplate.New(r.Route)
	if err != nil {
		return Tool{}, fmt.Errorf("mcp: tool %s: %w", r.Name, err)
	}
	vars := tmpl.Varnames()
	method := r.Method

	return Tool{
		Name:        r.Name,
		Description: r.Description,
		InputSchema: r.Schema,
		Scope:       r.Scope,
		Handler: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			rest := maps.Clone(inv.Arguments)
			if rest == nil {
				rest = map[string]any{}
			}

			values := uritemplate.Values{}
			for _, name := range vars {
				v, ok := rest[name]
				if !ok {
					return nil, fmt.Errorf("missing path argument %q", name)
				}
				values.Set(name, uritemplate.String(scalarString(v)))
				delete(rest, name)
			}
			path, err := tmpl.Expand(values)
			if err != nil {
				return nil, err
			}

			req := backend.Request{Method: method, Path: path}
			if method == http.MethodGet || method == http.MethodDelete {
				if len(rest) > 0 {
					req.Query = url.Values{}
					for k, v := range rest {
						req.Query.Set(k, scalarString(v))
					}
				}
			} else {
				req.Body = rest
			}

			inv.Progress(ctx, 0, 1, "calling "+r.Name)
			raw, err := b.Do(ctx, inv.Caller, req)
			if err != nil {
				return nil, err
			}
			inv.Progress(ctx, 1, 1, "done")

			return TextResult(string(raw)), nil
		},
	}, nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func idProp(desc string) *openapi3.Schema {
	s := openapi3.NewStringSchema().WithMinLength(1)
	s.Description = desc
	return s
}

func textProp(desc string) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	s.Description = desc
	return s
}

func objectSchema(required []string, props map[string]*openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	for name, p := range props {
		s.WithProperty(name, p)
	}
	if len(required) > 0 {
		s.Required = required
	}
	return s
}

var taskStatus = openapi3.NewStringSchema().WithEnum("todo", "in_progress", "done")

var taskPriority = openapi3.NewStringSchema().WithEnum("low", "medium", "high")

// BackendTools is the tool set for the project tracker's resource API.
var BackendTools = []RouteTool{
	{
		Name:        "list_projects",
		Description: "List the projects the user is a member of.",
		Scope:       domain.ScopeProjectsRead,
		Method:      http.MethodGet,
		Route:       "/api/projects",
		Schema:      objectSchema(nil, nil),
	},
	{
		Name:        "get_project",
		Description: "Get one project by id.",
		Scope:       domain.ScopeProjectsRead,
		Method:      http.MethodGet,
		Route:       "/api/projects/{projectId}",
		Schema: objectSchema([]string{"projectId"}, map[string]*openapi3.Schema{
			"projectId": idProp("Project id."),
		}),
	},
	{
		Name:        "create_project",
		Description: "Create a project.",
		Scope:       domain.ScopeProjectsWrite,
		Method:      http.MethodPost,
		Route:       "/api/projects",
		Schema: objectSchema([]string{"name"}, map[string]*openapi3.Schema{
			"name":        openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200),
			"description": textProp("Optional description."),
		}),
	},
	{
		Name:        "update_project",
		Description: "Rename a project or change its description.",
		Scope:       domain.ScopeProjectsWrite,
		Method:      http.MethodPatch,
		Route:       "/api/projects/{projectId}",
		Schema: objectSchema([]string{"projectId"}, map[string]*openapi3.Schema{
			"projectId":   idProp("Project id."),
			"name":        openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(200),
			"description": textProp("New description."),
		}),
	},
	{
		Name:        "list_components",
		Description: "List the components of a project.",
		Scope:       domain.ScopeProjectsRead,
		Method:      http.MethodGet,
		Route:       "/api/projects/{projectId}/components",
		Schema: objectSchema([]string{"projectId"}, map[string]*openapi3.Schema{
			"projectId": idProp("Project id."),
		}),
	},
	{
		Name:        "list_tasks",
		Description: "List tasks in a project, optionally filtered by status.",
		Scope:       domain.ScopeTasksRead,
		Method:      http.MethodGet,
		Route:       "/api/projects/{projectId}/tasks",
		Schema: objectSchema([]string{"projectId"}, map[string]*openapi3.Schema{
			"projectId": idProp("Project id."),
			"status":    taskStatus,
		}),
	},
	{
		Name:        "get_task",
		Description: "Get one task by id.",
		Scope:       domain.ScopeTasksRead,
		Method:      http.MethodGet,
		Route:       "/api/tasks/{taskId}",
		Schema: objectSchema([]string{"taskId"}, map[string]*openapi3.Schema{
			"taskId": idProp("Task id."),
		}),
	},
	{
		Name:        "create_task",
		Description: "Create a task in a project.",
		Scope:       domain.ScopeTasksWrite,
		Method:      http.MethodPost,
		Route:       "/api/projects/{projectId}/tasks",
		Schema: objectSchema([]string{"projectId", "title"}, map[string]*openapi3.Schema{
			"projectId":   idProp("Project id."),
			"title":       openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(500),
			"description": textProp("Markdown description."),
			"status":      taskStatus,
			"priority":    taskPriority,
			"assigneeId":  textProp("User id of the assignee."),
			"componentId": textProp("Component the task belongs to."),
		}),
	},
	{
		Name:        "update_task",
		Description: "Update fields of a task.",
		Scope:       domain.ScopeTasksWrite,
		Method:      http.MethodPatch,
		Route:       "/api/tasks/{taskId}",
		Schema: objectSchema([]string{"taskId"}, map[string]*openapi3.Schema{
			"taskId":      idProp("Task id."),
			"title":       openapi3.NewStringSchema().WithMinLength(1).WithMaxLength(500),
			"description": textProp("Markdown description."),
			"status":      taskStatus,
			"priority":    taskPriority,
			"assigneeId":  textProp("User id of the assignee."),
		}),
	},
	{
		Name:        "list_comments",
		Description: "List comments on a task.",
		Scope:       domain.ScopeCommentsRead,
		Method:      http.MethodGet,
		Route:       "/api/tasks/{taskId}/comments",
		Schema: objectSchema([]string{"taskId"}, map[string]*openapi3.Schema{
			"taskId": idProp("Task id."),
		}),
	},
	{
		Name:        "create_comment",
		Description: "Comment on a task.",
		Scope:       domain.ScopeCommentsWrite,
		Method:      http.MethodPost,
		Route:       "/api/tasks/{taskId}/comments",
		Schema: objectSchema([]string{"taskId", "body"}, map[string]*openapi3.Schema{
			"taskId": idProp("Task id."),
			"body":   openapi3.NewStringSchema().WithMinLength(1),
		}),
	},
}

// RegisterBackendTools adds every route tool to c.
func RegisterBackendTools(c *Catalog, b Backend, tools []RouteTool) error {
	for _, rt := range tools {
		t, err := rt.Tool(b)
		if err != nil {
			return err
		}
		if err := c.Register(t); err != nil {
			return err
		}
	}
	return nil
}
