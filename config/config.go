package config

import (
	"fmt"
	"os"
	"regexp"

	yaml "gopkg.in/yaml.v2"
)

const DefaultHeadMarker = "reading changes"
const DefaultTailMarker = "Processing change:"
const DefaultHeadScanLines = 200
const DefaultChangeMarker = `^Change\s+(\d\S*)`
const DefaultTransferMarker = `Transferred from .*?@([^\s.,;:)]*)`
const DefaultP4Command = "p4"

// Config for p4transferlogs
type Config struct {
	HeadMarker     string `yaml:"head_marker"`     // Substring marking end of run header in a transfer log
	TailMarker     string `yaml:"tail_marker"`     // Substring logged as each change is processed
	HeadScanLines  int    `yaml:"head_scan_lines"` // Only this many leading lines are searched for HeadMarker
	ChangeMarker   string `yaml:"change_marker"`   // Regex with one group capturing target change
	TransferMarker string `yaml:"transfer_marker"` // Regex with one group capturing source change
	P4Command      string `yaml:"p4_command"`      // Command prefix, e.g. "p4 -p ssl:host:1666 -u admin"
	CounterName    string `yaml:"counter_name"`    // Optional transfer counter reported by changemap

	ReChangeMarker   *regexp.Regexp `yaml:"-"`
	ReTransferMarker *regexp.Regexp `yaml:"-"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg, err := Unmarshal([]byte{})
	if err != nil {
		panic(err) // defaults must always validate
	}
	return cfg
}

// Unmarshal the config
func Unmarshal(config []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		HeadMarker:     DefaultHeadMarker,
		TailMarker:     DefaultTailMarker,
		HeadScanLines:  DefaultHeadScanLines,
		ChangeMarker:   DefaultChangeMarker,
		TransferMarker: DefaultTransferMarker,
		P4Command:      DefaultP4Command,
	}
	err := yaml.Unmarshal(config, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like match patterns)", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal([]byte(content))
	return cfg, err
}

// Load reads filename if set, otherwise returns defaults
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	return LoadConfigFile(filename)
}

func compileMarker(name, expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s '%s' as a regex", name, expr)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("%s '%s' must have exactly one capture group", name, expr)
	}
	return re, nil
}

func (c *Config) validate() error {
	var err error
	if c.HeadMarker == "" {
		return fmt.Errorf("head_marker must not be empty")
	}
	if c.TailMarker == "" {
		return fmt.Errorf("tail_marker must not be empty")
	}
	if c.HeadScanLines <= 0 {
		return fmt.Errorf("head_scan_lines must be > 0, got %d", c.HeadScanLines)
	}
	if c.P4Command == "" {
		c.P4Command = DefaultP4Command
	}
	if c.ReChangeMarker, err = compileMarker("change_marker", c.ChangeMarker); err != nil {
		return err
	}
	if c.ReTransferMarker, err = compileMarker("transfer_marker", c.TransferMarker); err != nil {
		return err
	}
	return nil
}
