package p4

// Minimal wrapper around the p4 command line, supplying the records and counter values
// the change map needs. Only text output is parsed - no -ztag or marshalled python.

import (
	"bufio"
	"bytes"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/rcowham/p4transferlogs/changemap"
	"github.com/sirupsen/logrus"
)

var reChangeHeader = regexp.MustCompile(`^Change (\S+) `)

// Client - runs p4 commands
type Client struct {
	logger *logrus.Logger
	cmd    []string // p4 command and global options, e.g. p4 -p port -u user
	run    func(name string, args ...string) ([]byte, error)
}

func execRun(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, errors.Wrap(err, msg)
		}
		return out, err
	}
	return out, nil
}

// NewClient - command is the p4 executable with any global options, split as a shell would
func NewClient(logger *logrus.Logger, command string) (*Client, error) {
	cmd, err := shlex.Split(command)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse p4 command '%s'", command)
	}
	if len(cmd) == 0 {
		return nil, errors.New("empty p4 command")
	}
	return &Client{logger: logger, cmd: cmd, run: execRun}, nil
}

func (c *Client) p4cmd(args ...string) ([]byte, error) {
	allArgs := append(append([]string{}, c.cmd[1:]...), args...)
	c.logger.Debugf("%s %s", c.cmd[0], strings.Join(allArgs, " "))
	out, err := c.run(c.cmd[0], allArgs...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", c.cmd[0], strings.Join(allArgs, " "))
	}
	return out, nil
}

// ListChanges returns up to limit most recent submitted changes under path, newest first.
// Each record's Description is the raw "p4 changes -l" text for that change.
func (c *Client) ListChanges(limit int, path string) ([]changemap.ChangeRecord, error) {
	args := []string{"changes", "-l", "-s", "submitted"}
	if limit > 0 {
		args = append(args, "-m", strconv.Itoa(limit))
	}
	args = append(args, path)
	out, err := c.p4cmd(args...)
	if err != nil {
		return nil, err
	}
	records := ParseChanges(out)
	c.logger.Debugf("Found %d changes for %s", len(records), path)
	return records, nil
}

// ParseChanges splits "p4 changes -l" output into one record per "Change N on ..." header.
// Text before the first header is kept as a record with ID 0.
func ParseChanges(out []byte) []changemap.ChangeRecord {
	records := make([]changemap.ChangeRecord, 0)
	var curr *changemap.ChangeRecord
	var lines []string
	flush := func() {
		if curr != nil {
			curr.Description = strings.Join(lines, "\n")
			records = append(records, *curr)
		}
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := reChangeHeader.FindStringSubmatch(line); m != nil {
			flush()
			id, _ := strconv.Atoi(m[1]) // malformed ids are reported by the correlator
			curr = &changemap.ChangeRecord{ID: id}
			lines = []string{line}
			continue
		}
		if curr == nil {
			if strings.TrimSpace(line) == "" {
				continue
			}
			curr = &changemap.ChangeRecord{}
		}
		lines = append(lines, line)
	}
	flush()
	return records
}

// GetCounter returns the value of a counter, 0 if unset
func (c *Client) GetCounter(name string) (int, error) {
	out, err := c.p4cmd("counter", name)
	if err != nil {
		return 0, err
	}
	val := strings.TrimSpace(string(out))
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Errorf("counter %s has non-numeric value '%s'", name, val)
	}
	return n, nil
}
