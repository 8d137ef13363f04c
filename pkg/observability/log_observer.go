package observability

import (
	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
)

// LogObserver writes engine events to a structured logger. Routine events log at debug level;
// retries and circuit transitions at info; failed refreshes and failed dispatches at warn.
type LogObserver struct {
	logger logging.Logger
}

// NewLogObserver creates an observer logging through logger
func NewLogObserver(logger logging.Logger) *LogObserver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogObserver{logger: logger.WithFields(logging.String("component", "dispatcher"))}
}

func (o *LogObserver) OnSelection(e SelectionEvent) {
	fields := []logging.Field{
		logging.String("operation_id", e.OperationID),
		logging.String("operation", e.Operation),
		logging.Any("candidates", e.Decision.Kinds()),
	}
	if len(e.Decision.Excluded) > 0 {
		fields = append(fields, logging.Any("excluded", e.Decision.Reasons()))
	}
	o.logger.Debug("transport selection", fields...)
}

func (o *LogObserver) OnAttempt(e AttemptEvent) {
	fields := []logging.Field{
		logging.String("operation_id", e.OperationID),
		logging.String("transport", e.Transport.String()),
		logging.Int("attempt", e.Attempt),
		logging.Duration("duration", e.Duration),
	}
	if e.Probe {
		fields = append(fields, logging.Bool("probe", true))
	}
	if e.Err != nil {
		o.logger.WithError(e.Err).Debug("attempt failed", append(fields, logging.String("failure", string(e.Failure)))...)
		return
	}
	o.logger.Debug("attempt succeeded", fields...)
}

func (o *LogObserver) OnRetry(e RetryEvent) {
	o.logger.Info("retrying operation",
		logging.String("operation_id", e.OperationID),
		logging.String("transport", e.Transport.String()),
		logging.Int("attempt", e.Attempt),
		logging.Duration("delay", e.Delay),
		logging.String("reason", string(e.Reason)),
		logging.Bool("credential_refresh", e.CredentialRefresh),
	)
}

func (o *LogObserver) OnCircuitTransition(e CircuitEvent) {
	o.logger.Info("circuit transition",
		logging.String("service", e.Service),
		logging.String("transport", e.Transition.Kind.String()),
		logging.String("from", string(e.Transition.From)),
		logging.String("to", string(e.Transition.To)),
	)
}

func (o *LogObserver) OnCredentialRefresh(e auth.RefreshEvent) {
	if e.Success {
		o.logger.Debug("credential refreshed", logging.Duration("duration", e.Duration))
		return
	}
	o.logger.WithError(e.Err).Warn("credential refresh failed",
		logging.Duration("duration", e.Duration),
		logging.Bool("reused_previous", e.Reused),
	)
}

func (o *LogObserver) OnDispatch(e DispatchEvent) {
	fields := []logging.Field{
		logging.String("operation_id", e.OperationID),
		logging.String("operation", e.Operation),
		logging.String("outcome", string(e.Outcome)),
		logging.Int("attempts", e.Attempts),
		logging.Duration("duration", e.Duration),
	}
	if e.Err != nil {
		o.logger.WithError(e.Err).Warn("dispatch failed", fields...)
		return
	}
	o.logger.Info("dispatch completed", append(fields, logging.String("transport", e.Transport.String()))...)
}
