package agentdispatch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	agentdispatch "github.com/ajitpratap0/agent-dispatch-go"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/transport"
)

func Example() {
	cfg := agentdispatch.DefaultConfig()
	cfg.Service = "billing"
	cfg.Metrics.Enabled = false
	cfg.Health.Enabled = false

	// rpc refuses the operation, so the dispatcher falls back to the bus
	rpc := transport.NewInMemoryAdapter(agentdispatch.TransportRPC,
		transport.Fail(dispatcherrors.RemoteRejected(agentdispatch.TransportRPC, 400, "quota exceeded")))
	bus := transport.NewInMemoryAdapter(agentdispatch.TransportBus,
		transport.Respond(json.RawMessage(`{"invoice":"INV-1"}`)))

	d, err := agentdispatch.New(cfg, agentdispatch.WithAdapter(rpc), agentdispatch.WithAdapter(bus))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() { _ = d.Close(context.Background()) }()

	result, err := d.Dispatch(context.Background(), "billing.invoice", map[string]int{"amount": 42},
		agentdispatch.WithLatency(200*time.Millisecond))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(result.Transport, string(result.Payload), result.Attempts)
	// Output: bus {"invoice":"INV-1"} 2
}
