// Package middleware provides HTTP middleware components for the engine's ops API.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const contentTypeProblemJSON = "application/problem+json"

// PluginContext identifies the automation client driving a request against
// the ops API (a CI pipeline, a SOAR playbook, an external orchestrator),
// as opposed to an unauthenticated caller. RateLimit uses it to apply the
// per-client tier instead of the stricter unauthenticated tier.
type PluginContext struct {
	PluginID string
	Name     string
}

type pluginContextKey struct{}

// SetPluginContext stores a PluginContext on ctx for later retrieval by
// GetPluginContext, typically done by an authentication middleware placed
// ahead of RateLimit in the chain.
func SetPluginContext(ctx context.Context, pluginCtx PluginContext) context.Context {
	return context.WithValue(ctx, pluginContextKey{}, pluginCtx)
}

// GetPluginContext retrieves the PluginContext set by SetPluginContext, if any.
func GetPluginContext(ctx context.Context) (PluginContext, bool) {
	pluginCtx, ok := ctx.Value(pluginContextKey{}).(PluginContext)

	return pluginCtx, ok
}

// problemDetail is the RFC 7807 Problem Details body written by
// writeRFC7807Error. It carries the same fields as internal/api.ProblemDetail,
// duplicated here since middleware cannot import internal/api without an
// import cycle; unlike that type, it encodes the correlation ID under the
// JSON key "correlation_id" and always emits detail and instance.
type problemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance"`
	CorrelationID string `json:"correlation_id"` //nolint: tagliatelle
}

// writeRFC7807Error writes an RFC 7807 compliant error response with the
// given status and detail, tagging it with the request's correlation ID.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, status int, detail, correlationID string) error {
	problem := problemDetail{
		Type:          fmt.Sprintf("https://spiderfoot-sub002.dev/problems/%d", status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
