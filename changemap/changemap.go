package changemap

// Reconstructs source -> target changelist mappings from target changelist descriptions.
// P4Transfer appends "Transferred from p4://<port>@<change>" to the description of every
// change it submits to the target, so scanning "p4 changes -l" output recovers the map.

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rcowham/p4transferlogs/config"
	"github.com/sirupsen/logrus"
)

// NoTarget is the target change recorded for a transfer line seen before any Change line
const NoTarget = 0

// ChangeRecord - a target changelist. Description is free text which may contain
// "Change N" header lines and "Transferred from ...@N" lines.
type ChangeRecord struct {
	ID          int
	Description string
}

// ChangeMapping - source change and the target change it was transferred to
type ChangeMapping struct {
	SourceChange int
	TargetChange int
}

func (m ChangeMapping) String() string {
	return fmt.Sprintf("%d,%d", m.SourceChange, m.TargetChange)
}

// ParseError - a marker was matched but the following token is not a change number
type ParseError struct {
	RecordID int
	Line     string
	Token    string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("change %d: invalid change number '%s' in line '%s': %v", e.RecordID, e.Token, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// State is the accumulator threaded through Scan
type State struct {
	Target   int // Current target change candidate, NoTarget until a Change line is seen
	RecordID int // Record currently being scanned, for error reporting
}

// Correlator - scans change descriptions for change/transfer markers
type Correlator struct {
	logger      *logrus.Logger
	reChange    *regexp.Regexp
	reTransfer  *regexp.Regexp
	parseErrors []*ParseError
}

func NewCorrelator(logger *logrus.Logger, cfg *config.Config) *Correlator {
	return &Correlator{logger: logger, reChange: cfg.ReChangeMarker, reTransfer: cfg.ReTransferMarker}
}

func parseChangeNo(state State, line string, token string) (int, error) {
	n, err := strconv.Atoi(token)
	if err == nil && n < 0 {
		err = errors.New("negative change number")
	}
	if err != nil {
		return 0, &ParseError{RecordID: state.RecordID, Line: line, Token: token, Err: err}
	}
	return n, nil
}

// Scan folds a single line into state, returning a mapping if the line is a transfer line.
// A malformed Change line resets the target to NoTarget.
func (c *Correlator) Scan(state State, line string) (State, *ChangeMapping, error) {
	if m := c.reChange.FindStringSubmatch(line); m != nil {
		n, err := parseChangeNo(state, line, m[1])
		state.Target = n
		return state, nil, err
	}
	if m := c.reTransfer.FindStringSubmatch(line); m != nil {
		n, err := parseChangeNo(state, line, m[1])
		if err != nil {
			return state, nil, err
		}
		return state, &ChangeMapping{SourceChange: n, TargetChange: state.Target}, nil
	}
	return state, nil, nil
}

// Correlate scans up to maxCount records (all if maxCount <= 0) in the order given and returns
// a channel of mappings in the same order. The channel is closed after the last record.
// Parse errors are logged and skipped - see ParseErrors().
func (c *Correlator) Correlate(records []ChangeRecord, maxCount int) chan ChangeMapping {
	if maxCount > 0 && len(records) > maxCount {
		records = records[:maxCount]
	}
	c.parseErrors = make([]*ParseError, 0)
	mapChan := make(chan ChangeMapping, 100)
	go func() {
		defer close(mapChan)
		state := State{Target: NoTarget}
		for _, rec := range records {
			state.RecordID = rec.ID
			var recordErr *ParseError
			for _, line := range strings.Split(rec.Description, "\n") {
				var m *ChangeMapping
				var err error
				state, m, err = c.Scan(state, strings.TrimRight(line, "\r"))
				if err != nil {
					c.logger.Warnf("Ignoring: %v", err)
					if recordErr == nil {
						errors.As(err, &recordErr)
					}
					continue
				}
				if m == nil {
					continue
				}
				if m.TargetChange == NoTarget {
					c.logger.Warnf("Source change %d found before any target change line", m.SourceChange)
				}
				c.logger.Debugf("Mapping: %s", m)
				mapChan <- *m
			}
			if recordErr != nil {
				c.parseErrors = append(c.parseErrors, recordErr)
			}
		}
	}()
	return mapChan
}

// ParseErrors returns the first parse error of each bad record in the last Correlate.
// Only valid once its channel has been drained.
func (c *Correlator) ParseErrors() []*ParseError {
	return c.parseErrors
}

// Collect drains a mapping channel
func Collect(mapChan chan ChangeMapping) []ChangeMapping {
	result := make([]ChangeMapping, 0)
	for m := range mapChan {
		result = append(result, m)
	}
	return result
}

// WriteCSV writes "source,target" lines with no header, returning the number written
func WriteCSV(w io.Writer, mapChan chan ChangeMapping) (int, error) {
	bw := bufio.NewWriter(w)
	count := 0
	for m := range mapChan {
		if _, err := fmt.Fprintf(bw, "%d,%d\n", m.SourceChange, m.TargetChange); err != nil {
			// drain so the producer can exit
			for range mapChan {
			}
			return count, err
		}
		count++
	}
	return count, bw.Flush()
}

// ReadCSV reads "source,target" lines as written by WriteCSV. Blank lines are skipped;
// a header line of non-numeric values is tolerated as the first record.
func ReadCSV(r io.Reader) ([]ChangeMapping, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	result := make([]ChangeMapping, 0)
	lineNo := 0
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return result, nil
		}
		lineNo++
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: expected source,target got '%s'", lineNo, strings.Join(fields, ","))
		}
		// change_map_file written by P4Transfer has port as the first of 3 fields
		fields = fields[len(fields)-2:]
		src, errSrc := strconv.Atoi(fields[0])
		targ, errTarg := strconv.Atoi(fields[1])
		if errSrc != nil || errTarg != nil {
			if lineNo == 1 {
				continue
			}
			return nil, errors.Errorf("line %d: invalid change numbers '%s,%s'", lineNo, fields[0], fields[1])
		}
		result = append(result, ChangeMapping{SourceChange: src, TargetChange: targ})
	}
}
