package queue

import "context"

// Gateway runs one conversion command against one source file. Calls are
// independent and may complete in any order.
type Gateway interface {
	Invoke(ctx context.Context, command string, args Args) (Result, error)
}

// Args are the per-file arguments of a gateway call. Start and End are only
// set for trim commands.
type Args struct {
	SourceFpath string `json:"sourceFpath"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`

	// OnProgress, when set, receives the completed percentage (1-100) of the
	// call. Gateways that cannot measure progress never call it.
	OnProgress ProgressFunc `json:"-"`
}

type ProgressFunc func(percent int)

type Result struct {
	OutputPath string `json:"outputPath,omitempty"`
	Log        string `json:"log,omitempty"`
}

// GatewayFunc adapts a plain function to Gateway.
type GatewayFunc func(ctx context.Context, command string, args Args) (Result, error)

func (f GatewayFunc) Invoke(ctx context.Context, command string, args Args) (Result, error) {
	return f(ctx, command, args)
}
