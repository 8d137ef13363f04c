// Package benchmarks drives a dispatcher under sustained load and reports latency and transport
// distribution.
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/dispatcher"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// LoadTestConfig configures load testing parameters
type LoadTestConfig struct {
	// Number of concurrent callers
	Workers int

	// Number of operations per worker (0 = until Duration expires)
	OperationsPerWorker int

	// Operation rate limit across all workers (operations per second, 0 = unlimited)
	RateLimit int

	// Test duration (0 = run until all operations complete)
	Duration time.Duration

	// Ramp up period for gradual load increase
	RampUpTime time.Duration

	// Mix of operations to submit, by relative weight
	Mix []WeightedOperation

	// Reporting interval (0 disables progress reports)
	ReportInterval time.Duration

	Logger logging.Logger
}

// WeightedOperation is one entry of the operation mix
type WeightedOperation struct {
	Name    string
	Weight  float64
	Payload interface{}
	Options []protocol.OperationOption
}

// LoadTestResult contains the results of a load test
type LoadTestResult struct {
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
	TotalDuration        time.Duration

	// Latency statistics
	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration
	P50Latency time.Duration
	P90Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration

	OperationsPerSecond float64

	// Failures by error name
	ErrorCounts map[string]int64

	// Successful operations by the transport that served them
	TransportCounts map[protocol.TransportKind]int64

	// Mean attempts per successful operation
	AvgAttempts float64
}

// LoadTester submits a weighted operation mix to a dispatcher
type LoadTester struct {
	config     LoadTestConfig
	dispatcher *dispatcher.Dispatcher
	logger     logging.Logger
	cumulative []float64

	total      int64
	successful int64
	failed     int64
	attempts   int64

	mu         sync.Mutex
	latencies  []time.Duration
	errors     map[string]int64
	transports map[protocol.TransportKind]int64

	startTime time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewLoadTester creates a load tester for d
func NewLoadTester(d *dispatcher.Dispatcher, config LoadTestConfig) *LoadTester {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if len(config.Mix) == 0 {
		config.Mix = []WeightedOperation{{Name: "echo", Weight: 1, Payload: map[string]string{"input": "load"}}}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var sum float64
	for _, w := range config.Mix {
		sum += w.Weight
	}
	cumulative := make([]float64, len(config.Mix))
	var running float64
	for i, w := range config.Mix {
		if sum > 0 {
			running += w.Weight / sum
		} else {
			running += 1 / float64(len(config.Mix))
		}
		cumulative[i] = running
	}

	return &LoadTester{
		config:     config,
		dispatcher: d,
		logger:     logger,
		cumulative: cumulative,
		errors:     make(map[string]int64),
		transports: make(map[protocol.TransportKind]int64),
		stopCh:     make(chan struct{}),
	}
}

// Run executes the load test and blocks until it finishes
func (lt *LoadTester) Run(ctx context.Context) (*LoadTestResult, error) {
	if lt.config.OperationsPerWorker == 0 && lt.config.Duration == 0 {
		return nil, fmt.Errorf("load test needs OperationsPerWorker or Duration")
	}
	lt.startTime = time.Now()
	defer lt.stop()

	if lt.config.ReportInterval > 0 {
		go lt.reportProgress()
	}
	rateLimiter := lt.createRateLimiter()

	for i := 0; i < lt.config.Workers; i++ {
		lt.wg.Add(1)
		go lt.runWorker(ctx, rateLimiter)

		if lt.config.RampUpTime > 0 && i < lt.config.Workers-1 {
			time.Sleep(lt.config.RampUpTime / time.Duration(lt.config.Workers-1))
		}
	}

	done := make(chan struct{})
	go func() {
		lt.wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if lt.config.Duration > 0 {
		timer := time.NewTimer(lt.config.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
	case <-deadline:
		lt.stop()
		<-done
	case <-ctx.Done():
		lt.stop()
		<-done
	}

	return lt.calculateResults(), nil
}

func (lt *LoadTester) stop() {
	lt.stopOnce.Do(func() { close(lt.stopCh) })
}

func (lt *LoadTester) runWorker(ctx context.Context, rateLimiter <-chan struct{}) {
	defer lt.wg.Done()

	for count := 0; lt.config.OperationsPerWorker == 0 || count < lt.config.OperationsPerWorker; count++ {
		select {
		case <-lt.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if rateLimiter != nil {
			select {
			case <-rateLimiter:
			case <-lt.stopCh:
				return
			}
		}
		lt.execute(ctx, lt.pick())
	}
}

// pick chooses an operation according to the configured weights
func (lt *LoadTester) pick() WeightedOperation {
	r := rand.Float64()
	for i, c := range lt.cumulative {
		if r < c {
			return lt.config.Mix[i]
		}
	}
	return lt.config.Mix[len(lt.config.Mix)-1]
}

func (lt *LoadTester) execute(ctx context.Context, w WeightedOperation) {
	start := time.Now()
	atomic.AddInt64(&lt.total, 1)

	result, err := lt.dispatcher.Dispatch(ctx, w.Name, w.Payload, w.Options...)
	elapsed := time.Since(start)

	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.latencies = append(lt.latencies, elapsed)
	if err != nil {
		atomic.AddInt64(&lt.failed, 1)
		lt.errors[errorKey(err)]++
		return
	}
	atomic.AddInt64(&lt.successful, 1)
	atomic.AddInt64(&lt.attempts, int64(result.Attempts))
	lt.transports[result.Transport]++
}

func (lt *LoadTester) createRateLimiter() <-chan struct{} {
	if lt.config.RateLimit <= 0 {
		return nil
	}

	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(lt.config.RateLimit))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				case <-lt.stopCh:
					return
				}
			case <-lt.stopCh:
				return
			}
		}
	}()
	return ch
}

func (lt *LoadTester) reportProgress() {
	ticker := time.NewTicker(lt.config.ReportInterval)
	defer ticker.Stop()

	last := int64(0)
	lastTime := time.Now()
	for {
		select {
		case now := <-ticker.C:
			current := atomic.LoadInt64(&lt.total)
			rate := float64(current-last) / now.Sub(lastTime).Seconds()
			lt.logger.Info("load test progress",
				logging.Any("operations", current),
				logging.Any("rate", math.Round(rate*10)/10),
				logging.Any("successful", atomic.LoadInt64(&lt.successful)),
				logging.Any("failed", atomic.LoadInt64(&lt.failed)))
			last, lastTime = current, now
		case <-lt.stopCh:
			return
		}
	}
}

func (lt *LoadTester) calculateResults() *LoadTestResult {
	duration := time.Since(lt.startTime)

	lt.mu.Lock()
	defer lt.mu.Unlock()

	result := &LoadTestResult{
		TotalOperations:      atomic.LoadInt64(&lt.total),
		SuccessfulOperations: atomic.LoadInt64(&lt.successful),
		FailedOperations:     atomic.LoadInt64(&lt.failed),
		TotalDuration:        duration,
		ErrorCounts:          make(map[string]int64, len(lt.errors)),
		TransportCounts:      make(map[protocol.TransportKind]int64, len(lt.transports)),
	}
	if duration > 0 {
		result.OperationsPerSecond = float64(result.TotalOperations) / duration.Seconds()
	}
	if result.SuccessfulOperations > 0 {
		result.AvgAttempts = float64(atomic.LoadInt64(&lt.attempts)) / float64(result.SuccessfulOperations)
	}
	for code, n := range lt.errors {
		result.ErrorCounts[code] = n
	}
	for kind, n := range lt.transports {
		result.TransportCounts[kind] = n
	}

	if len(lt.latencies) > 0 {
		sorted := slices.Clone(lt.latencies)
		slices.Sort(sorted)

		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		result.MinLatency = sorted[0]
		result.MaxLatency = sorted[len(sorted)-1]
		result.AvgLatency = sum / time.Duration(len(sorted))
		result.P50Latency = percentile(sorted, 50)
		result.P90Latency = percentile(sorted, 90)
		result.P95Latency = percentile(sorted, 95)
		result.P99Latency = percentile(sorted, 99)
	}
	return result
}

// errorKey names a failure by its registered code, or by its classification otherwise
func errorKey(err error) string {
	if de, ok := dispatcherrors.AsDispatchError(err); ok {
		return dispatcherrors.GetErrorCodeName(de.Code())
	}
	return string(dispatcherrors.Classify(err))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	index := int(math.Ceil(float64(len(sorted))*p/100.0)) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// PrintResults writes a readable summary to w
func (r *LoadTestResult) PrintResults(w io.Writer) {
	fmt.Fprintln(w, "=== Load Test Results ===")
	fmt.Fprintf(w, "Total Duration: %s\n", r.TotalDuration)
	fmt.Fprintf(w, "Total Operations: %d\n", r.TotalOperations)
	if r.TotalOperations > 0 {
		fmt.Fprintf(w, "Successful: %d (%.1f%%)\n", r.SuccessfulOperations,
			float64(r.SuccessfulOperations)/float64(r.TotalOperations)*100)
		fmt.Fprintf(w, "Failed: %d (%.1f%%)\n", r.FailedOperations,
			float64(r.FailedOperations)/float64(r.TotalOperations)*100)
	}
	fmt.Fprintf(w, "Operations/sec: %.2f\n", r.OperationsPerSecond)
	fmt.Fprintf(w, "Attempts/success: %.2f\n", r.AvgAttempts)

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min: %s\n", r.MinLatency)
	fmt.Fprintf(w, "  Avg: %s\n", r.AvgLatency)
	fmt.Fprintf(w, "  P50: %s\n", r.P50Latency)
	fmt.Fprintf(w, "  P90: %s\n", r.P90Latency)
	fmt.Fprintf(w, "  P95: %s\n", r.P95Latency)
	fmt.Fprintf(w, "  P99: %s\n", r.P99Latency)
	fmt.Fprintf(w, "  Max: %s\n", r.MaxLatency)

	if len(r.TransportCounts) > 0 {
		fmt.Fprintln(w, "\nServed by:")
		for _, kind := range protocol.AllKinds() {
			if n, ok := r.TransportCounts[kind]; ok {
				fmt.Fprintf(w, "  %s: %d\n", kind, n)
			}
		}
	}
	if len(r.ErrorCounts) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for code, n := range r.ErrorCounts {
			fmt.Fprintf(w, "  %s: %d\n", code, n)
		}
	}
}
