package measure

import (
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/clock"
	"github.com/sarchlab/speedmeasure/hooking"
	"github.com/sarchlab/speedmeasure/idgen"
	"github.com/sarchlab/speedmeasure/intercept"
	"github.com/sarchlab/speedmeasure/pipeline"
	"github.com/sarchlab/speedmeasure/tracing"
	"github.com/sarchlab/speedmeasure/wrapping"
)

// Builder can build SpeedMeasure instances.
type Builder struct {
	opts       Options
	timeTeller clock.TimeTeller
	ids        idgen.Generator
	logger     *zap.Logger
	hooks      []hooking.Hook
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		opts: DefaultOptions(),
	}
}

// WithOptions sets the options of the SpeedMeasure.
func (b Builder) WithOptions(opts Options) Builder {
	b.opts = opts
	return b
}

// WithTimeTeller sets the clock intervals are stamped with.
func (b Builder) WithTimeTeller(t clock.TimeTeller) Builder {
	b.timeTeller = t
	return b
}

// WithIDGenerator sets the generator of invocation ids.
func (b Builder) WithIDGenerator(ids idgen.Generator) Builder {
	b.ids = ids
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithHook attaches a hook to the ledger of the SpeedMeasure.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), h)
	return b
}

// Build creates a SpeedMeasure.
func (b Builder) Build() *SpeedMeasure {
	if b.timeTeller == nil {
		b.timeTeller = clock.NewWallClock()
	}

	if b.ids == nil {
		b.ids = idgen.New()
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.opts.OutputFormat == "" {
		b.opts.OutputFormat = DefaultOptions().OutputFormat
	}

	ledger := tracing.NewLedger(b.timeTeller)
	ledger.AcceptHook(tracing.NewLogHook(b.logger))

	for _, h := range b.hooks {
		ledger.AcceptHook(h)
	}

	interceptor := intercept.New(ledger, b.ids, b.logger)
	wrapper := wrapping.New(interceptor)
	interceptor.UseArgWrapper(wrapper)

	return &SpeedMeasure{
		opts:           b.opts,
		logger:         b.logger,
		ledger:         ledger,
		interceptor:    interceptor,
		wrapper:        wrapper,
		wrappedLoaders: make(map[*pipeline.Loader]bool),
	}
}
