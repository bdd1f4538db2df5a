package wire

// Built-in request methods a guest may issue toward the host. Anything
// outside this set is routed to the host's fallback handler.
const (
	MethodToolsCall             = "tools/call"
	MethodResourcesList         = "resources/list"
	MethodResourceTemplatesList = "resources/templates/list"
	MethodResourcesRead         = "resources/read"
	MethodPromptsList           = "prompts/list"
)

// One-way notification methods pushed from the host to the guest.
const (
	NotifyContextChanged   = "notifications/host/context-changed"
	NotifyInputPartial     = "notifications/host/input-partial"
	NotifyCancelled        = "notifications/host/cancelled"
	NotifyToolsChanged     = "notifications/host/tools-changed"
	NotifyResourcesChanged = "notifications/host/resources-changed"
	NotifyPromptsChanged   = "notifications/host/prompts-changed"
	NotifyTeardown         = "notifications/host/teardown"
)

// One-way notification methods pushed from the guest to the host.
const (
	NotifyGuestReady       = "notifications/guest/ready"
	NotifyGuestSizeChanged = "notifications/guest/size-changed"
)

var builtinRequests = map[string]struct{}{
	MethodToolsCall:             {},
	MethodResourcesList:         {},
	MethodResourceTemplatesList: {},
	MethodResourcesRead:         {},
	MethodPromptsList:           {},
}

// IsBuiltin reports whether method belongs to the fixed request set handled
// by the host's built-in table.
func IsBuiltin(method string) bool {
	_, ok := builtinRequests[method]
	return ok
}
