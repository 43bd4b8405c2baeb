// Package config provides configuration parsing and validation for copyperf runs.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddress        = "127.0.0.1"
	DefaultPort           = 8080
	DefaultMessageSize    = 1024
	DefaultFieldCount     = 8
	DefaultDuration       = 10 * time.Second
	DefaultConcurrency    = 4
	DefaultStrategy       = "copy"
	DefaultMaxConnections = 100
	DefaultAcceptTimeout  = 2 * time.Second
	DefaultGrace          = 5 * time.Second
	DefaultAllocator      = "heap"
)

// Config is the root configuration for a copyperf run.
//
// Example YAML:
//
//	bench:
//	  address: 10.0.0.2
//	  port: 8080
//	  message_size: 65536
//	  duration: 30s
//	  concurrency: 8
//	  strategy: zerocopy
//	logging:
//	  level: info
//	  format: json
type Config struct {
	Bench   BenchConfig   `json:"bench" yaml:"bench"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// BenchConfig describes one benchmark run.
type BenchConfig struct {
	// Address is the server address the client dials. The server listens on
	// all interfaces.
	Address string `json:"address" yaml:"address"`

	Port int `json:"port" yaml:"port"`

	// MessageSize is the total message size in bytes; each field gets
	// MessageSize / FieldCount bytes.
	MessageSize int `json:"message_size" yaml:"message_size"`

	// FieldCount must be 8.
	FieldCount int `json:"field_count" yaml:"field_count"`

	Duration Duration `json:"duration" yaml:"duration"`

	// Concurrency is the number of client workers.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Strategy is one of copy, scatter-gather, zerocopy (labels and A1/A2/A3
	// are accepted too).
	Strategy string `json:"strategy" yaml:"strategy"`

	// MaxConnections caps concurrently active server workers.
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// AcceptTimeout bounds each accept wait so the server can observe shutdown.
	AcceptTimeout Duration `json:"accept_timeout" yaml:"accept_timeout"`

	// Grace is added to Duration for the server watchdog. The server keeps
	// accepting until the watchdog fires.
	Grace Duration `json:"grace" yaml:"grace"`

	// WholeUnits times whole Transfer Units on the client instead of
	// individual receive calls.
	WholeUnits bool `json:"whole_units,omitempty" yaml:"whole_units,omitempty"`

	// Verify checks every received unit against the fill pattern. It implies
	// WholeUnits.
	Verify bool `json:"verify,omitempty" yaml:"verify,omitempty"`

	// SendRate caps messages per second on each server connection; zero is
	// unlimited.
	SendRate float64 `json:"send_rate,omitempty" yaml:"send_rate,omitempty"`

	// Allocator is "heap" or "page".
	Allocator string `json:"allocator" yaml:"allocator"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`

	// CSVOut, when set, appends each run's summary row to this file.
	CSVOut string `json:"csv_out,omitempty" yaml:"csv_out,omitempty"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is a logrus level name (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
	// Output is "console" or "file".
	Output   string `json:"output" yaml:"output"`
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int  `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxAge    int  `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	Compress  bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	b := &c.Bench
	if b.Address == "" {
		b.Address = DefaultAddress
	}
	if b.Port == 0 {
		b.Port = DefaultPort
	}
	if b.MessageSize == 0 {
		b.MessageSize = DefaultMessageSize
	}
	if b.FieldCount == 0 {
		b.FieldCount = DefaultFieldCount
	}
	if b.Duration == 0 {
		b.Duration = Duration(DefaultDuration)
	}
	if b.Concurrency == 0 {
		b.Concurrency = DefaultConcurrency
	}
	if b.Strategy == "" {
		b.Strategy = DefaultStrategy
	}
	if b.MaxConnections == 0 {
		b.MaxConnections = DefaultMaxConnections
	}
	if b.AcceptTimeout == 0 {
		b.AcceptTimeout = Duration(DefaultAcceptTimeout)
	}
	if b.Grace == 0 {
		b.Grace = Duration(DefaultGrace)
	}
	if b.Allocator == "" {
		b.Allocator = DefaultAllocator
	}

	l := &c.Logging
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "console"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxAge == 0 {
		l.MaxAge = 7
	}
}

// ListenAddr returns the address the server binds.
func (b BenchConfig) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(b.Port))
}

// DialAddr returns the address the client connects to.
func (b BenchConfig) DialAddr() string {
	return net.JoinHostPort(b.Address, strconv.Itoa(b.Port))
}

// Duration wraps time.Duration so it reads as "30s" in YAML and JSON.
// A bare integer is taken as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// ParseDurationString parses a Go duration ("30s", "1m30s") or a whole number
// of seconds ("30").
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	seconds, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(seconds) * time.Second, nil
}
