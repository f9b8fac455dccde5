package main

// changegraph program
// This processes a change map (as written by changemap, or a P4Transfer change_map_file) and writes:
//   * a graph file (graphviz dot format, or rendered svg/png) showing source -> target changes

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/emicklei/dot"
	"github.com/goccy/go-graphviz"
	"github.com/perforce/p4prometheus/version"
	"github.com/pkg/errors"
	"github.com/rcowham/p4transferlogs/changemap"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

type ChangeGraphOption struct {
	mapFile     string // empty means stdin
	graphFile   string // empty means stdout
	format      string
	firstChange int // first target change to include, 0 means all
	lastChange  int // last target change to include, 0 means all
}

// ChangeGraph - graph of change mappings
type ChangeGraph struct {
	logger    *logrus.Logger
	opts      ChangeGraphOption
	testInput string // For testing only
	graph     *dot.Graph
	srcNodes  map[int]dot.Node
	targNodes map[int]dot.Node
}

func NewChangeGraph(logger *logrus.Logger, opts *ChangeGraphOption) *ChangeGraph {
	return &ChangeGraph{logger: logger,
		opts:      *opts,
		graph:     dot.NewGraph(dot.Directed),
		srcNodes:  make(map[int]dot.Node),
		targNodes: make(map[int]dot.Node),
	}
}

func (g *ChangeGraph) readMappings() ([]changemap.ChangeMapping, error) {
	var buf io.Reader
	if g.testInput != "" {
		buf = bytes.NewBufferString(g.testInput)
	} else if g.opts.mapFile == "" {
		buf = bufio.NewReader(os.Stdin)
	} else {
		file, err := os.Open(g.opts.mapFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open '%s'", g.opts.mapFile)
		}
		defer file.Close()
		buf = bufio.NewReader(file)
	}
	return changemap.ReadCSV(buf)
}

func (g *ChangeGraph) inRange(targ int) bool {
	return (g.opts.firstChange == 0 || targ >= g.opts.firstChange) &&
		(g.opts.lastChange == 0 || targ <= g.opts.lastChange)
}

func (g *ChangeGraph) node(nodes map[int]dot.Node, label string, chg int) dot.Node {
	if n, ok := nodes[chg]; ok {
		return n
	}
	n := g.graph.Node(fmt.Sprintf("%s %d", label, chg))
	nodes[chg] = n
	return n
}

// ParseChangeMap reads the map and builds the graph. Returns no of mappings graphed.
func (g *ChangeGraph) ParseChangeMap() (int, error) {
	mappings, err := g.readMappings()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range mappings {
		if !g.inRange(m.TargetChange) {
			continue
		}
		src := g.node(g.srcNodes, "src", m.SourceChange)
		targ := g.node(g.targNodes, "targ", m.TargetChange)
		if m.TargetChange == changemap.NoTarget {
			targ.Attr("style", "dashed")
		}
		g.graph.Edge(src, targ, "t")
		count++
	}
	// Chain target changes in order so history reads top to bottom
	keys := make([]int, 0, len(g.targNodes))
	for k := range g.targNodes {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for i := 1; i < len(keys); i++ {
		g.graph.Edge(g.targNodes[keys[i-1]], g.targNodes[keys[i]]).Attr("style", "dotted")
	}
	g.logger.Debugf("Mappings: %d, source changes: %d, target changes: %d", count, len(g.srcNodes), len(g.targNodes))
	return count, nil
}

// Write outputs the graph in the requested format
func (g *ChangeGraph) Write(w io.Writer) error {
	var format graphviz.Format
	switch g.opts.format {
	case "", "dot":
		_, err := io.WriteString(w, g.graph.String())
		return err
	case "svg":
		format = graphviz.SVG
	case "png":
		format = graphviz.PNG
	default:
		return fmt.Errorf("unknown format '%s'", g.opts.format)
	}
	gv := graphviz.New()
	defer gv.Close()
	graph, err := graphviz.ParseBytes([]byte(g.graph.String()))
	if err != nil {
		return errors.Wrap(err, "failed to parse graph")
	}
	defer graph.Close()
	return gv.Render(graph, format, w)
}

func main() {
	var (
		mapFile = kingpin.Arg(
			"changemap",
			"CSV of source,target changes to process (default stdin).",
		).String()
		outputGraph = kingpin.Flag(
			"output",
			"Graph file to write (default stdout).",
		).Short('o').String()
		format = kingpin.Flag(
			"format",
			"Output format.",
		).Default("dot").Enum("dot", "svg", "png")
		firstChange = kingpin.Flag(
			"first.change",
			"First target change to include in graph output (default 0 means all changes).",
		).Default("0").Short('f').Int()
		lastChange = kingpin.Flag(
			"last.change",
			"Last target change to include in graph output (default of 0 means all changes).",
		).Default("0").Short('l').Int()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("changegraph")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Parses a source,target change map to create a graphviz graph\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Debugf("%v", version.Print("changegraph"))
	logger.Debugf("Starting %s, changemap: %v", startTime, *mapFile)

	opts := &ChangeGraphOption{
		mapFile:     *mapFile,
		graphFile:   *outputGraph,
		format:      *format,
		firstChange: *firstChange,
		lastChange:  *lastChange,
	}
	logger.Debugf("Options: %+v", opts)
	g := NewChangeGraph(logger, opts)
	if _, err := g.ParseChangeMap(); err != nil {
		logger.Fatalf("Error: %v", err)
	}
	var out io.Writer = os.Stdout
	if g.opts.graphFile != "" {
		f, err := os.OpenFile(g.opts.graphFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			logger.Fatalf("Error: %v", err)
		}
		defer f.Close()
		out = f
	}
	if err := g.Write(out); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
