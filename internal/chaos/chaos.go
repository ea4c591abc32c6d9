// Package chaos runs fault-injection experiments against the memorial
// services: establish a steady state, inject a fault, observe, roll back and
// check the hypothesis.
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment defines a chaos engineering test.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
}

// Metric is a measurable system property.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action is a fault injection or recovery step.
type Action struct {
	Type    string // latency, failure, race
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the final observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// ErrSteadyState aborts an experiment whose preconditions do not hold.
var ErrSteadyState = errors.New("steady state invalid - aborting experiment")

// Engine orchestrates chaos experiments.
type Engine struct {
	tracer      trace.Tracer
	log         logrus.FieldLogger
	interval    time.Duration
	experiments []Experiment
	results     []Result
	mu          sync.Mutex
}

type EngineOption func(*Engine)

// WithSampleInterval sets how often metrics are sampled while a fault is
// active. The default is one second.
func WithSampleInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

func NewEngine(log logrus.FieldLogger, opts ...EngineOption) *Engine {
	e := &Engine{
		tracer:   otel.Tracer("memoria/chaos"),
		log:      log,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes a single experiment.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		return result, ErrSteadyState
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = e.validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples every metric until the experiment duration elapses. The
// first sample is taken immediately.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var violatedAt time.Time
	recovered := false
	for {
		for _, m := range exp.SteadyState {
			value, err := m.Query(ctx)
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
					Timestamp: time.Now(),
					Error:     err.Error(),
					Component: m.Name,
				})
				continue
			}
			result.Observations[m.Name] = append(result.Observations[m.Name],
				DataPoint{Timestamp: time.Now(), Value: value})

			if !evaluateThreshold(value, m.Threshold) {
				if violatedAt.IsZero() {
					violatedAt = time.Now()
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: m.Name,
					Expected:   m.Threshold.Value,
					Actual:     value,
					Timestamp:  time.Now(),
				})
			} else if !violatedAt.IsZero() && !recovered {
				mttr := time.Since(violatedAt)
				result.MTTR = &mttr
				recovered = true
			}
		}

		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)
	for _, m := range metrics {
		value, err := m.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Expected:   m.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}
		if !evaluateThreshold(value, m.Threshold) {
			violations = append(violations, MetricViolation{
				MetricName: m.Name,
				Expected:   m.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

// validateAssertions returns the messages of the assertions that failed
// against each metric's final observation.
func (e *Engine) validateAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Metric]
		if len(observations) == 0 || !a.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay runs a series of experiments with a cooldown between them.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	Cooldown  time.Duration
}

// ExecuteGameDay runs every scenario and reports whether all hypotheses
// held.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.log.WithFields(logrus.Fields{"game_day": day.Name, "date": day.Date.Format(time.RFC3339)}).Info("starting game day")

	allHeld := true
	for i, scenario := range day.Scenarios {
		log := e.log.WithFields(logrus.Fields{
			"experiment": scenario.Name,
			"index":      i + 1,
			"of":         len(day.Scenarios),
		})
		log.WithField("hypothesis", scenario.Hypothesis).Info("running experiment")

		result, err := e.Run(ctx, scenario)
		if err != nil {
			log.WithError(err).Error("experiment aborted")
			allHeld = false
		} else {
			e.report(log, result)
			allHeld = allHeld && result.HypothesisHeld
		}

		if i < len(day.Scenarios)-1 && day.Cooldown > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(day.Cooldown):
			}
		}
	}
	return allHeld, nil
}

func (e *Engine) report(log logrus.FieldLogger, result *Result) {
	fields := logrus.Fields{
		"violations": len(result.Violations),
		"duration":   result.Duration.String(),
	}
	if result.MTTR != nil {
		fields["mttr"] = result.MTTR.String()
	}
	if result.HypothesisHeld {
		log.WithFields(fields).Info("hypothesis held")
		return
	}
	log.WithFields(fields).WithField("failed", result.FailedAssertions).Warn("hypothesis violated")
}
