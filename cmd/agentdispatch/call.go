package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/dispatcher"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// CallCmd dispatches one operation and prints the result as JSON.
type CallCmd struct {
	Name    string `arg:"" help:"Operation name."`
	Payload string `arg:"" optional:"" help:"JSON payload." default:"{}"`

	Hint        string        `help:"Pin the operation to a transport (rpc, stream, bus, tool)."`
	Latency     time.Duration `help:"Expected latency used when scoring transports." default:"1s"`
	Reliability string        `help:"Reliability level (best_effort, normal, strict)." default:"normal"`
	Realtime    bool          `help:"Require a realtime-capable transport."`
	Timeout     time.Duration `help:"Overall deadline for the call." default:"30s"`
}

// options turns the flags into operation options
func (c *CallCmd) options() ([]protocol.OperationOption, error) {
	level, err := protocol.ParseReliability(c.Reliability)
	if err != nil {
		return nil, err
	}
	opts := []protocol.OperationOption{
		protocol.WithLatency(c.Latency),
		protocol.WithReliability(level),
		protocol.WithRealtime(c.Realtime),
	}
	if c.Hint != "" {
		kind, err := protocol.ParseKind(c.Hint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, protocol.WithHint(kind))
	}
	return opts, nil
}

func (c *CallCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load()
	if err != nil {
		return err
	}
	if !json.Valid([]byte(c.Payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}
	opts, err := c.options()
	if err != nil {
		return err
	}

	// a one-shot call has nothing to serve metrics to
	cfg.Metrics.Enabled = false
	d, err := dispatcher.New(cfg, dispatcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer func() { _ = d.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	result, err := d.Dispatch(ctx, c.Name, json.RawMessage(c.Payload), opts...)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, result)
}

func printResult(w io.Writer, result *protocol.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
