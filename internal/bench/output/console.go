// Package output renders run summaries for people and scripts.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/metrics"
	out "github.com/wesleyorama2/copyperf/internal/output"
)

const boxHorizontal = "━"

// ConsoleConfig controls the console report.
type ConsoleConfig struct {
	Writer io.Writer
	// Verbose adds one line per worker.
	Verbose     bool
	NoColor     bool
	ForceColors bool
}

// Console prints a Summary as a human-readable report.
type Console struct {
	w       io.Writer
	verbose bool
	noColor bool
	colors  *out.ColorScheme
}

// NewConsole creates a console reporter.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	useColors := cfg.ForceColors || (!cfg.NoColor && out.SupportsColors(cfg.Writer))
	return &Console{
		w:       cfg.Writer,
		verbose: cfg.Verbose,
		noColor: !useColors,
		colors:  out.SchemeFor(useColors),
	}
}

// PrintSummary prints s followed by its canonical CSV line.
func (c *Console) PrintSummary(s metrics.Summary) {
	line := strings.Repeat(boxHorizontal, 56)

	status := out.SuccessIcon(c.noColor) + " completed"
	if s.FailedWorkers > 0 {
		status = out.WarningIcon(c.noColor) + fmt.Sprintf(" %d of %d workers failed", s.FailedWorkers, len(s.Workers))
	}
	if len(s.Workers) > 0 && s.FailedWorkers == len(s.Workers) {
		status = out.ErrorIcon(c.noColor) + " every worker failed"
	}

	c.writeln("")
	c.writeln(c.colors.Dim.Sprint(line))
	c.writeln(fmt.Sprintf("%s %s - %s",
		c.colors.Title.Sprint("copyperf "+s.Role),
		c.colors.Highlight.Sprint(s.Label),
		status))
	c.writeln(c.colors.Dim.Sprint(line))

	c.row("Run ID", s.RunID)
	c.row("Message size", fmt.Sprintf("%s (%d fields of %s)",
		formatBytes(uint64(s.MessageSize)), message.FieldCount, formatBytes(uint64(s.MessageSize/message.FieldCount))))
	c.row("Workers", fmt.Sprintf("%d", s.Concurrency))
	c.row("Elapsed", formatDuration(s.Elapsed))
	c.row("Transferred", fmt.Sprintf("%s bytes in %s units", formatNumber(s.TotalBytes), formatNumber(s.TotalTransfers)))
	c.row("Throughput", c.colors.Good.Sprintf("%.4f Gbps", s.ThroughputGbps))
	if s.Role == "client" {
		c.row("Avg latency", fmt.Sprintf("%.2f µs", s.AvgLatencyUs))
	}
	c.writeln("")

	if s.Latency.Max > 0 {
		c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %d µs", s.Latency.Min))
		c.writeln(fmt.Sprintf("  P50:       %d µs", s.Latency.P50))
		c.writeln(fmt.Sprintf("  P90:       %d µs", s.Latency.P90))
		c.writeln(fmt.Sprintf("  P99:       %d µs", s.Latency.P99))
		c.writeln(fmt.Sprintf("  Max:       %d µs", s.Latency.Max))
		c.writeln("")
	}

	if s.Offload.Attempts > 0 {
		fallback := float64(s.Offload.Fallbacks) / float64(s.Offload.Attempts) * 100
		color := c.colors.Good
		if fallback > 0 {
			color = c.colors.Warn
		}
		c.row("Offload", fmt.Sprintf("%s sends, %s fell back",
			formatNumber(s.Offload.Attempts), color.Sprintf("%.1f%%", fallback)))
	}
	if s.VerifyFailures > 0 {
		c.row("Verify", c.colors.Bad.Sprintf("%d corrupt units", s.VerifyFailures))
	}
	if h := s.Host; h != nil {
		c.row("CPU", fmt.Sprintf("user %s, system %s", formatDuration(h.UserCPU), formatDuration(h.SystemCPU)))
		c.row("Ctx switches", fmt.Sprintf("%s voluntary, %s involuntary",
			formatNumber(uint64(h.VoluntarySwitches)), formatNumber(uint64(h.InvoluntarySwitches))))
	}

	if c.verbose && len(s.Workers) > 0 {
		c.writeln(c.colors.Title.Sprint("Workers:"))
		for _, w := range s.Workers {
			line := fmt.Sprintf("  [%d] %-8s %s bytes  %.4f Gbps", w.ID, w.State, formatNumber(w.Bytes), w.ThroughputGbps)
			if s.Role == "client" {
				line += fmt.Sprintf("  %.2f µs", w.AvgLatencyUs)
			}
			if w.Error != "" {
				line += "  " + c.colors.Bad.Sprint(w.Error)
			}
			c.writeln(line)
		}
		c.writeln("")
	}

	c.writeln("")
	c.writeln(s.CSVLine())
}

func (c *Console) row(label, value string) {
	c.writeln(fmt.Sprintf("%-14s %s", c.colors.Label.Sprint(label+":"), value))
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n uint64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// formatBytes renders a size with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
