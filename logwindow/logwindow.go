package logwindow

// Extracts a bounded diagnostic excerpt from a P4Transfer log: the run header (up to and
// including the changes query echoed at startup) followed by everything logged after the
// last "Processing change" line - ie. the change which was active when the log ended.

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rcowham/p4transferlogs/config"
	"github.com/sirupsen/logrus"
)

// ErrFileNotFound is returned (wrapped with the path) when the log cannot be found
var ErrFileNotFound = errors.New("log file not found")

// LogLine - a single line of a log with its 1-based position
type LogLine struct {
	Num  int
	Text string
}

// Window - inclusive 1-based range of lines. Empty when End < Start, so the zero value is empty.
type Window struct {
	Start int
	End   int
}

func (w Window) Empty() bool {
	return w.End < w.Start || w.End == 0
}

// Len returns no of lines in the window
func (w Window) Len() int {
	if w.Empty() {
		return 0
	}
	return w.End - w.Start + 1
}

func (w Window) String() string {
	if w.Empty() {
		return "empty"
	}
	return fmt.Sprintf("%d-%d", w.Start, w.End)
}

// Excerpt - lines selected from a log
type Excerpt struct {
	Head       []LogLine
	Tail       []LogLine
	TotalLines int
}

func (e *Excerpt) Empty() bool {
	return len(e.Head) == 0 && len(e.Tail) == 0
}

// HeadWindow returns the range covered by Head
func (e *Excerpt) HeadWindow() Window {
	return linesWindow(e.Head)
}

// TailWindow returns the range covered by Tail
func (e *Excerpt) TailWindow() Window {
	return linesWindow(e.Tail)
}

func linesWindow(lines []LogLine) Window {
	if len(lines) == 0 {
		return Window{}
	}
	return Window{Start: lines[0].Num, End: lines[len(lines)-1].Num}
}

// WriteTo writes head then tail lines, each newline terminated, with no annotation
func (e *Excerpt) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, lines := range [][]LogLine{e.Head, e.Tail} {
		for _, l := range lines {
			n, err := io.WriteString(w, l.Text+"\n")
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Extractor - finds head and tail windows in transfer logs
type Extractor struct {
	logger        *logrus.Logger
	headMarker    string
	tailMarker    string
	headScanLines int
}

func NewExtractor(logger *logrus.Logger, cfg *config.Config) *Extractor {
	return &Extractor{
		logger:        logger,
		headMarker:    cfg.HeadMarker,
		tailMarker:    cfg.TailMarker,
		headScanLines: cfg.HeadScanLines,
	}
}

// Extract returns the head and tail windows for lines. Lines are expected in order, numbered from 1.
func (x *Extractor) Extract(lines []LogLine) (head Window, tail Window) {
	for i, l := range lines {
		if i >= x.headScanLines {
			break
		}
		if strings.Contains(l.Text, x.headMarker) {
			head = Window{Start: 1, End: l.Num}
			break
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i].Text, x.tailMarker) {
			if i+1 < len(lines) {
				tail = Window{Start: lines[i].Num + 1, End: lines[len(lines)-1].Num}
			}
			break
		}
	}
	return head, tail
}

// Select applies Extract and returns the selected lines
func (x *Extractor) Select(lines []LogLine) *Excerpt {
	head, tail := x.Extract(lines)
	e := &Excerpt{TotalLines: len(lines)}
	if !head.Empty() {
		e.Head = lines[head.Start-1 : head.End]
	}
	if !tail.Empty() {
		e.Tail = lines[tail.Start-1 : tail.End]
	}
	return e
}

// ExtractReader reads r once, keeping only the header scan region and the lines since the most
// recent tail marker, so very large logs need not be held in memory.
func (x *Extractor) ExtractReader(r io.Reader) (*Excerpt, error) {
	br := bufio.NewReader(r)
	e := &Excerpt{}
	prefix := make([]LogLine, 0)
	headFound := false
	tail := make([]LogLine, 0)
	tailFound := false
	for {
		text, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "reading line %d", e.TotalLines+1)
		}
		if len(text) == 0 && err == io.EOF {
			break
		}
		e.TotalLines++
		line := LogLine{Num: e.TotalLines, Text: strings.TrimSuffix(text, "\n")}
		if !headFound && e.TotalLines <= x.headScanLines {
			prefix = append(prefix, line)
			if strings.Contains(line.Text, x.headMarker) {
				headFound = true
				e.Head = prefix
				x.logger.Debugf("Head marker found at line %d", line.Num)
			}
		}
		if strings.Contains(line.Text, x.tailMarker) {
			tailFound = true
			tail = tail[:0]
		} else if tailFound {
			tail = append(tail, line)
		}
		if err == io.EOF {
			break
		}
	}
	if len(tail) > 0 {
		e.Tail = tail
	}
	x.logger.Debugf("Read %d lines, head %s, tail %s", e.TotalLines, e.HeadWindow(), e.TailWindow())
	if e.Empty() {
		x.logger.Infof("No head marker '%s' in first %d lines and no tail marker '%s' found",
			x.headMarker, x.headScanLines, x.tailMarker)
	}
	return e, nil
}

// ReadLines reads all of r as numbered lines
func ReadLines(r io.Reader) ([]LogLine, error) {
	br := bufio.NewReader(r)
	lines := make([]LogLine, 0)
	for {
		text, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "reading line %d", len(lines)+1)
		}
		if len(text) > 0 {
			lines = append(lines, LogLine{Num: len(lines) + 1, Text: strings.TrimSuffix(text, "\n")})
		}
		if err == io.EOF {
			return lines, nil
		}
	}
}

type logReader struct {
	io.Reader
	closers []io.Closer
}

func (lr *logReader) Close() error {
	var err error
	for i := len(lr.closers) - 1; i >= 0; i-- {
		if cerr := lr.closers[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// OpenLog opens a log file, transparently decompressing it if it was gzipped when rotated
func OpenLog(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrFileNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "failed to open '%s'", path)
	}
	br := bufio.NewReader(f)
	// 262 bytes is sufficient for all filetype matchers
	head, err := br.Peek(262)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		f.Close()
		return nil, errors.Wrapf(err, "failed to read '%s'", path)
	}
	kind, _ := filetype.Match(head)
	if kind.Extension != "gz" {
		return &logReader{Reader: br, closers: []io.Closer{f}}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to decompress '%s'", path)
	}
	return &logReader{Reader: zr, closers: []io.Closer{f, zr}}, nil
}

// ReadFile extracts the excerpt for the log at path
func (x *Extractor) ReadFile(path string) (*Excerpt, error) {
	r, err := OpenLog(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return x.ExtractReader(r)
}

// Render returns the excerpt as text - mostly useful for tests and small logs
func (e *Excerpt) Render() string {
	var buf bytes.Buffer
	e.WriteTo(&buf)
	return buf.String()
}
