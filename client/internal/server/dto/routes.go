// API route declarations shared by the server mux and the HTTP client.
package dto

import (
	"net/url"
	"strings"
)

// Route describes a single API endpoint.
type Route struct {
	Name   string // e.g. "sendMessage"
	Method string // "GET" or "POST"
	Path   string // e.g. "/task/{task_id}/messages"
	IsSSE  bool   // SSE stream, not JSON
}

// Route names.
const (
	RouteCreateTask      = "createTask"
	RouteGetTask         = "getTask"
	RouteTaskEvents      = "taskEvents"
	RouteListMessages    = "listMessages"
	RouteSendMessage     = "sendMessage"
	RouteToolCalls       = "toolCalls"
	RouteRealtimeSession = "realtimeSession"
)

// Routes is the authoritative list of API endpoints.
var Routes = []Route{
	{Name: RouteCreateTask, Method: "POST", Path: "/task"},
	{Name: RouteGetTask, Method: "GET", Path: "/task/{task_id}"},
	{Name: RouteTaskEvents, Method: "POST", Path: "/task/{task_id}/events", IsSSE: true},
	{Name: RouteListMessages, Method: "GET", Path: "/task/{task_id}/messages"},
	{Name: RouteSendMessage, Method: "POST", Path: "/task/{task_id}/messages"},
	{Name: RouteToolCalls, Method: "POST", Path: "/task/{task_id}/tool-calls"},
	{Name: RouteRealtimeSession, Method: "GET", Path: "/auth/openai-session"},
}

// Lookup returns the route named name. It panics on an unknown name since
// names are compile-time constants.
func Lookup(name string) Route {
	for _, r := range Routes {
		if r.Name == name {
			return r
		}
	}
	panic("unknown route " + name)
}

// Pattern returns the net/http mux pattern of the route.
func (r Route) Pattern() string {
	return r.Method + " " + r.Path
}

// Expand substitutes the task id into the route path.
func (r Route) Expand(taskID string) string {
	return strings.ReplaceAll(r.Path, "{task_id}", url.PathEscape(taskID))
}
