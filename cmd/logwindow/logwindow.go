package main

// logwindow program
// Writes a bounded excerpt of a P4Transfer log to stdout: the run header up to the changes
// query, followed by everything after the last "Processing change" line. Useful for sending
// the relevant part of a very large log for diagnosis.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/rcowham/p4transferlogs/config"
	"github.com/rcowham/p4transferlogs/logwindow"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

func Humanize(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}

type LogWindowOptions struct {
	logFile    string
	configFile string
}

// LogWindow - extracts a log excerpt and writes it
type LogWindow struct {
	logger *logrus.Logger
	opts   LogWindowOptions
	out    io.Writer
}

func NewLogWindow(logger *logrus.Logger, opts LogWindowOptions, out io.Writer) *LogWindow {
	return &LogWindow{logger: logger, opts: opts, out: out}
}

// Run extracts and writes the excerpt
func (lw *LogWindow) Run() error {
	cfg, err := config.Load(lw.opts.configFile)
	if err != nil {
		return err
	}
	x := logwindow.NewExtractor(lw.logger, cfg)
	e, err := x.ReadFile(lw.opts.logFile)
	if err != nil {
		return err
	}
	n, err := e.WriteTo(lw.out)
	if err != nil {
		return errors.Wrap(err, "failed to write output")
	}
	lw.logger.Debugf("Lines: %d, head: %s, tail: %s", e.TotalLines, e.HeadWindow(), e.TailWindow())
	if fi, err := os.Stat(lw.opts.logFile); err == nil {
		lw.logger.Infof("Wrote %s from %s log %s", Humanize(n), Humanize(fi.Size()), lw.opts.logFile)
	}
	return nil
}

func main() {
	var (
		logfile = kingpin.Arg(
			"logfile",
			"P4Transfer log file to process (may be gzipped).",
		).Required().String()
		configFile = kingpin.Flag(
			"config",
			"Optional YAML config file overriding markers.",
		).Short('c').String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
		profiling = kingpin.Flag(
			"profile",
			"Write a CPU profile to the current directory.",
		).Hidden().Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("logwindow")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Writes the header and last active change of a P4Transfer log to stdout\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *profiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Debugf("%v", version.Print("logwindow"))
	logger.Debugf("Starting %s, logfile: %v", startTime, *logfile)

	opts := LogWindowOptions{logFile: *logfile, configFile: *configFile}
	lw := NewLogWindow(logger, opts, os.Stdout)
	if err := lw.Run(); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
