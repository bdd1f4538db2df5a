// Package catalog fronts the upstream service that supplies tool, resource
// and prompt data to the host's built-in handlers. The bridge consumes it
// through plain request/response calls; its failures propagate transparently
// with no added retry.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/surfacekit/uibridge/internal/bridge"
	"github.com/surfacekit/uibridge/internal/wire"
)

// Catalog is the host-side view of the upstream catalog service.
type Catalog interface {
	ListTools(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	CallTool(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	ListResources(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	ListResourceTemplates(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	ReadResource(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	ListPrompts(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Builtins maps the fixed built-in method set onto a catalog. The resulting
// table entries delegate one-to-one; upstream success and failure cross the
// bridge unchanged.
func Builtins(c Catalog) map[string]bridge.Handler {
	return map[string]bridge.Handler{
		wire.MethodToolsCall:             c.CallTool,
		wire.MethodResourcesList:         c.ListResources,
		wire.MethodResourceTemplatesList: c.ListResourceTemplates,
		wire.MethodResourcesRead:         c.ReadResource,
		wire.MethodPromptsList:           c.ListPrompts,
	}
}
