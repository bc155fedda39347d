package orchestrator

import (
	"context"

	"github.com/ShayCichocki/crew/internal/agent"
	"github.com/ShayCichocki/crew/internal/decompose"
	"github.com/ShayCichocki/crew/pkg/models"
)

// DefaultMaxConcurrency bounds in-flight agents per level when not configured.
const DefaultMaxConcurrency = 4

// TaskDecomposer turns a requirement into tasks. *decompose.Decomposer
// implements it.
type TaskDecomposer interface {
	Decompose(ctx context.Context, requirement string, project models.ProjectInfo) (*decompose.Result, error)
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Decomposer produces the task list for a requirement.
	Decomposer TaskDecomposer
	// Executor runs one sub-agent.
	Executor agent.TaskExecutor
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	maxConcurrency    int
	strict            bool
	logger            *DebugLogger
	metrics           *Metrics
	eventBuffer       int
	validator         *decompose.Validator
	additionalContext string
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		maxConcurrency: DefaultMaxConcurrency,
		eventBuffer:    DefaultEventBuffer,
	}
}

// WithMaxConcurrency sets the maximum number of agents running at once.
// Values below 1 keep the default.
func WithMaxConcurrency(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithStrictDependencies rejects decompositions whose dependencies contain a
// cycle or reference an unknown task, instead of flattening them.
func WithStrictDependencies(strict bool) Option {
	return func(o *orchestratorOptions) { o.strict = strict }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithMetrics sets the Prometheus collectors. Without it the collectors
// registered on the default registry are used.
func WithMetrics(m *Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithValidator checks decomposed tasks; findings are logged as warnings.
func WithValidator(v *decompose.Validator) Option {
	return func(o *orchestratorOptions) { o.validator = v }
}

// WithAdditionalContext sets free-form context passed to every skill call.
func WithAdditionalContext(s string) Option {
	return func(o *orchestratorOptions) { o.additionalContext = s }
}
