package main

// changemap program
// Lists the most recent changes under one or more target depot paths and writes
// "sourceChange,targetChange" lines recovered from the "Transferred from" text P4Transfer
// adds to each target change description.

import (
	"io"
	"os"
	"time"

	"github.com/alitto/pond"
	"github.com/perforce/p4prometheus/version"
	"github.com/rcowham/p4transferlogs/changemap"
	"github.com/rcowham/p4transferlogs/config"
	"github.com/rcowham/p4transferlogs/p4"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

// maxParallelQueries bounds the no of concurrent p4 changes commands
const maxParallelQueries = 4

// ChangeLister supplies target change records
type ChangeLister interface {
	ListChanges(limit int, path string) ([]changemap.ChangeRecord, error)
	GetCounter(name string) (int, error)
}

type ChangeMapOptions struct {
	maxChanges int
	depotPaths []string
}

// ChangeMap - queries target paths and correlates their changes
type ChangeMap struct {
	logger *logrus.Logger
	cfg    *config.Config
	opts   ChangeMapOptions
	p4     ChangeLister
	out    io.Writer
}

func NewChangeMap(logger *logrus.Logger, cfg *config.Config, opts ChangeMapOptions, lister ChangeLister, out io.Writer) *ChangeMap {
	return &ChangeMap{logger: logger, cfg: cfg, opts: opts, p4: lister, out: out}
}

type pathResult struct {
	records []changemap.ChangeRecord
	err     error
}

// fetch lists changes for all paths, in parallel where there is more than one
func (cm *ChangeMap) fetch() []pathResult {
	results := make([]pathResult, len(cm.opts.depotPaths))
	workers := len(cm.opts.depotPaths)
	if workers > maxParallelQueries {
		workers = maxParallelQueries
	}
	if workers < 1 {
		return results
	}
	pool := pond.New(workers, len(cm.opts.depotPaths))
	for i, path := range cm.opts.depotPaths {
		i, path := i, path
		pool.Submit(func() {
			records, err := cm.p4.ListChanges(cm.opts.maxChanges, path)
			results[i] = pathResult{records: records, err: err}
		})
	}
	pool.StopAndWait()
	return results
}

// Run writes mappings for each path in the order given. Returns the no of mappings written.
func (cm *ChangeMap) Run() (int, error) {
	if cm.cfg.CounterName != "" {
		if val, err := cm.p4.GetCounter(cm.cfg.CounterName); err != nil {
			cm.logger.Warnf("Failed to read counter %s: %v", cm.cfg.CounterName, err)
		} else {
			cm.logger.Infof("Counter %s: %d", cm.cfg.CounterName, val)
		}
	}
	total := 0
	for i, res := range cm.fetch() {
		path := cm.opts.depotPaths[i]
		if res.err != nil {
			return total, res.err
		}
		corr := changemap.NewCorrelator(cm.logger, cm.cfg)
		n, err := changemap.WriteCSV(cm.out, corr.Correlate(res.records, cm.opts.maxChanges))
		total += n
		if err != nil {
			return total, err
		}
		if errs := corr.ParseErrors(); len(errs) > 0 {
			cm.logger.Warnf("%s: %d changes had unparseable change numbers", path, len(errs))
		}
		cm.logger.Debugf("%s: %d changes, %d mappings", path, len(res.records), n)
	}
	return total, nil
}

func main() {
	var (
		maxChanges = kingpin.Arg(
			"max_changes",
			"Max no of most recent target changes to examine per path.",
		).Required().Int()
		depotPaths = kingpin.Arg(
			"depot_path",
			"Target depot path(s), e.g. //depot/import/...",
		).Required().Strings()
		configFile = kingpin.Flag(
			"config",
			"Optional YAML config file overriding markers and p4 command.",
		).Short('c').String()
		p4Command = kingpin.Flag(
			"p4",
			"p4 command including any global options, e.g. \"p4 -p ssl:host:1666 -u admin\" (overrides config).",
		).String()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("changemap")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Writes sourceChange,targetChange for recent changes transferred by P4Transfer\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Debugf("%v", version.Print("changemap"))
	logger.Debugf("Starting %s, max: %d, paths: %v", startTime, *maxChanges, *depotPaths)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatalf("Error: %v", err)
	}
	if *p4Command != "" {
		cfg.P4Command = *p4Command
	}
	client, err := p4.NewClient(logger, cfg.P4Command)
	if err != nil {
		logger.Fatalf("Error: %v", err)
	}
	opts := ChangeMapOptions{maxChanges: *maxChanges, depotPaths: *depotPaths}
	cm := NewChangeMap(logger, cfg, opts, client, os.Stdout)
	if _, err := cm.Run(); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
