package toolkit

import (
	"context"

	"github.com/calder/toolgate/pkg/tool"
)

// echoTool is the loopback diagnostic: it returns its input and is
// safe at every security level.
func echoTool() tool.Tool {
	return tool.NewBuilder("echo").
		Description("Return the given text unchanged.").
		Category("diagnostics").
		Tags("utility").
		StringParam("text", "Text to echo", true).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"echoed": args["text"]}, nil
		}).
		MustBuild()
}
