package measure

import (
	"io"

	"github.com/sarchlab/speedmeasure/config"
	"github.com/sarchlab/speedmeasure/pipeline"
	"github.com/sarchlab/speedmeasure/report"
)

// Options configure a SpeedMeasure.
type Options struct {
	// Disable turns Wrap and Apply into no-ops.
	Disable bool

	OutputFormat report.Format

	// OutputFormatter, if set, replaces OutputFormat.
	OutputFormatter report.Formatter

	// OutputTarget is a file the report is appended to. When empty the
	// report is written to Output.
	OutputTarget string

	// Output receives the report and the build comparison. Defaults to
	// os.Stdout.
	Output io.Writer

	Color bool

	// PluginNames names plugins whose type does not tell what they are.
	PluginNames map[string]pipeline.Plugin

	// GranularLoaderData times every loader of a chain individually.
	GranularLoaderData bool

	// LoaderTopFiles is the number of slowest modules listed per chain.
	LoaderTopFiles int

	// CompareLoadersBuild is the history database the loader chain timings
	// of every build are compared against. Empty disables the comparison.
	CompareLoadersBuild string

	// MonitorAddr, if set, starts the monitor on this address when the
	// SpeedMeasure is applied to a compiler.
	MonitorAddr string
}

// DefaultOptions returns the options of a SpeedMeasure nobody configured.
func DefaultOptions() Options {
	return Options{OutputFormat: report.FormatHuman}
}

// WithConfig returns the options overridden by what a configuration file
// can express. Writers, formatters and plugin names are kept.
func (o Options) WithConfig(c config.Options) Options {
	o.Disable = c.Disable
	o.OutputFormat = report.Format(c.OutputFormat)
	o.OutputTarget = c.OutputTarget
	o.Color = c.ColorEnabled()
	o.GranularLoaderData = c.GranularLoaderData
	o.LoaderTopFiles = c.LoaderTopFiles

	o.CompareLoadersBuild = ""
	if c.CompareLoadersBuild != nil {
		o.CompareLoadersBuild = c.CompareLoadersBuild.FilePath
	}

	o.MonitorAddr = c.Monitor.Addr

	return o
}

func (o Options) verbose() bool {
	return o.OutputFormat == report.FormatHumanVerbose
}
