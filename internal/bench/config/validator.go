package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/strategy"
)

// ErrInvalid is matched by every error Validate returns.
var ErrInvalid = errors.New("invalid config")

// FieldError is one rejected setting, keyed by its YAML path.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// FieldErrors collects every rejected setting of one config.
type FieldErrors struct {
	Errors []*FieldError
}

func (e *FieldErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	if len(msgs) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalid, msgs[0])
	}
	return fmt.Sprintf("%v (%d problems): %s", ErrInvalid, len(msgs), strings.Join(msgs, "; "))
}

func (e *FieldErrors) Unwrap() error { return ErrInvalid }

// Add records a rejected field.
func (e *FieldErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &FieldError{Field: field, Message: message})
}

// HasErrors reports whether anything was rejected.
func (e *FieldErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire configuration.
//
// Returns nil if valid, or a *FieldErrors containing every problem found.
func (c *Config) Validate() error {
	errs := &FieldErrors{}
	validateBench(&c.Bench, errs)
	validateLogging(&c.Logging, errs)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBench(b *BenchConfig, errs *FieldErrors) {
	if b.Port <= 0 || b.Port > 65535 {
		errs.Add("bench.port", fmt.Sprintf("port %d out of range 1-65535", b.Port))
	}
	if b.FieldCount != message.FieldCount {
		errs.Add("bench.field_count", fmt.Sprintf("must be %d, got %d", message.FieldCount, b.FieldCount))
	}
	if _, err := message.FieldSizeFor(b.MessageSize); err != nil {
		errs.Add("bench.message_size", err.Error())
	}
	if b.Duration.Std() <= 0 {
		errs.Add("bench.duration", "must be positive")
	}
	if b.Concurrency <= 0 {
		errs.Add("bench.concurrency", "must be at least 1")
	}
	if _, err := strategy.Parse(b.Strategy); err != nil {
		errs.Add("bench.strategy", err.Error())
	}
	if b.MaxConnections <= 0 {
		errs.Add("bench.max_connections", "must be at least 1")
	}
	if b.AcceptTimeout.Std() <= 0 {
		errs.Add("bench.accept_timeout", "must be positive")
	}
	if b.Grace.Std() < 0 {
		errs.Add("bench.grace", "must not be negative")
	}
	if b.SendRate < 0 {
		errs.Add("bench.send_rate", "must not be negative")
	}
	if _, err := message.NewAllocator(b.Allocator); err != nil {
		errs.Add("bench.allocator", err.Error())
	}
}

func validateLogging(l *LoggingConfig, errs *FieldErrors) {
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs.Add("logging.format", fmt.Sprintf("unknown format %q (use text or json)", l.Format))
	}
	switch strings.ToLower(l.Output) {
	case "", "console":
	case "file":
		if l.FilePath == "" {
			errs.Add("logging.file_path", "required when output is file")
		}
	default:
		errs.Add("logging.output", fmt.Sprintf("unknown output %q (use console or file)", l.Output))
	}
}
