package agentdispatch

import (
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/config"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/dispatcher"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Version represents the current version of the module
const Version = "0.1.0"

// Core types
type (
	Dispatcher       = dispatcher.Dispatcher
	Option           = dispatcher.Option
	Config           = config.Config
	Operation        = protocol.Operation
	Result           = protocol.Result
	Requirements     = protocol.Requirements
	TransportKind    = protocol.TransportKind
	Declaration      = capability.Declaration
	AggregateFailure = dispatcherrors.AggregateFailure
)

// Transport kinds
const (
	TransportRPC    = protocol.TransportRPC
	TransportStream = protocol.TransportStream
	TransportBus    = protocol.TransportBus
	TransportTool   = protocol.TransportTool
)

// Reliability levels
const (
	ReliabilityBestEffort = protocol.ReliabilityBestEffort
	ReliabilityNormal     = protocol.ReliabilityNormal
	ReliabilityStrict     = protocol.ReliabilityStrict
)

// These exports provide direct access to the core components
var (
	// New creates a dispatcher from a configuration
	New = dispatcher.New

	// DefaultConfig returns the built-in configuration
	DefaultConfig = config.Default

	// LoadConfig reads an optional YAML file, applies DISPATCH_* overrides and validates
	LoadConfig = config.Load

	// NewOperation builds an operation with a generated id
	NewOperation = protocol.NewOperation

	// NewFileFeed watches a declaration file for changes
	NewFileFeed = capability.NewFileFeed
)

// Dispatcher options
var (
	WithLogger            = dispatcher.WithLogger
	WithObserver          = dispatcher.WithObserver
	WithAdapter           = dispatcher.WithAdapter
	WithTokenSource       = dispatcher.WithTokenSource
	WithInitialCredential = dispatcher.WithInitialCredential
	WithValidator         = dispatcher.WithValidator
	WithDeclaration       = dispatcher.WithDeclaration
	WithMetrics           = dispatcher.WithMetrics
	WithTracing           = dispatcher.WithTracing
)

// Operation options
var (
	WithHint         = protocol.WithHint
	WithLatency      = protocol.WithLatency
	WithReliability  = protocol.WithReliability
	WithRealtime     = protocol.WithRealtime
	WithRequirements = protocol.WithRequirements
	WithOperationID  = protocol.WithOperationID
)
