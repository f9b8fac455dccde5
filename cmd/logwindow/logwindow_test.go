// Tests for logwindow command

package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rcowham/p4transferlogs/logwindow"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

var debug bool = false

func init() {
	flag.BoolVar(&debug, "debug", false, "Set to have debug logging for tests.")
}

func createLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger
}

func writeToFile(t *testing.T, dir, name, contents string) string {
	fname := filepath.Join(dir, name)
	if err := os.WriteFile(fname, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", fname, err)
	}
	return fname
}

func runLogWindow(t *testing.T, opts LogWindowOptions) (string, error) {
	var out bytes.Buffer
	lw := NewLogWindow(createLogger(), opts, &out)
	err := lw.Run()
	return out.String(), err
}

func TestRun(t *testing.T) {
	d := t.TempDir()
	log := writeToFile(t, d, "transfer.log", `INFO: Logging to file
DEBUG: reading changes: ['changes', '-l']
INFO: Processing change: 1, files 1, size 1 B "a"
INFO: source = 1 : target = 11
INFO: Processing change: 2, files 1, size 1 B "b"
ERROR: Failed
`)
	output, err := runLogWindow(t, LogWindowOptions{logFile: log})
	assert.NoError(t, err)
	assert.Equal(t, "INFO: Logging to file\nDEBUG: reading changes: ['changes', '-l']\nERROR: Failed\n", output)

	// Same again
	output2, err := runLogWindow(t, LogWindowOptions{logFile: log})
	assert.NoError(t, err)
	assert.Equal(t, output, output2)
}

func TestRunNoMarkers(t *testing.T) {
	d := t.TempDir()
	log := writeToFile(t, d, "transfer.log", "1\n2\n3\n4\n5\n")
	output, err := runLogWindow(t, LogWindowOptions{logFile: log})
	assert.NoError(t, err)
	assert.Equal(t, "", output)
}

func TestRunConfig(t *testing.T) {
	d := t.TempDir()
	log := writeToFile(t, d, "transfer.log", "start\nSTARTED\nCHANGE 1\nlast\n")
	cfg := writeToFile(t, d, "logs.yaml", "head_marker: STARTED\ntail_marker: CHANGE\n")
	output, err := runLogWindow(t, LogWindowOptions{logFile: log, configFile: cfg})
	assert.NoError(t, err)
	assert.Equal(t, "start\nSTARTED\nlast\n", output)

	_, err = runLogWindow(t, LogWindowOptions{logFile: log, configFile: filepath.Join(d, "missing.yaml")})
	assert.Error(t, err)
}

func TestRunMissingLog(t *testing.T) {
	_, err := runLogWindow(t, LogWindowOptions{logFile: filepath.Join(t.TempDir(), "missing.log")})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, logwindow.ErrFileNotFound))
}

func TestRunReportsSizes(t *testing.T) {
	d := t.TempDir()
	log := writeToFile(t, d, "transfer.log", "DEBUG: reading changes\nINFO: Processing change: 1\nERROR: Failed\n")
	logger := createLogger()
	hook := logtest.NewLocal(logger)
	var out bytes.Buffer
	lw := NewLogWindow(logger, LogWindowOptions{logFile: log}, &out)
	assert.NoError(t, lw.Run())
	assert.Equal(t, "DEBUG: reading changes\nERROR: Failed\n", out.String())
	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, logrus.InfoLevel, entry.Level)
		assert.Equal(t, "Wrote 37 B from 64 B log "+log, entry.Message)
	}
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "999 B", Humanize(999))
	assert.Equal(t, "1.5 kB", Humanize(1500))
	assert.Equal(t, "2.0 MB", Humanize(2000000))
}
