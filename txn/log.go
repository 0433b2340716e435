package txn

import (
	"strings"

	"github.com/chronicals/sdk/jsonrpc"
)

const maxLogChars = 10000

// formatLogArgs joins args with spaces the way the handler-visible log()
// call does: strings pass through verbatim, nil becomes the literal
// "undefined", and everything else is JSON-stringified with a two-space
// indent. The result is truncated to maxLogChars with a trailing advisory
// so one runaway log call can't blow out the wire payload.
func formatLogArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatLogArg(a)
	}
	joined := strings.Join(parts, " ")
	if len(joined) <= maxLogChars {
		return joined
	}
	return joined[:maxLogChars] + "... (truncated)"
}

func formatLogArg(a any) string {
	if a == nil {
		return "undefined"
	}
	if s, ok := a.(string); ok {
		return s
	}
	raw, err := jsonrpc.MarshalIndent(a, "", "  ")
	if err != nil {
		return "undefined"
	}
	return string(raw)
}
