package monitor

import (
	"fmt"
	"io"
	"os"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based visualization of content and delivery transitions.
type CLIMonitor struct {
	writer io.Writer // The output destination, typically os.Stdout.
}

// NewCLIMonitor creates a new CLI monitor
func NewCLIMonitor() *CLIMonitor {
	return &CLIMonitor{
		writer: os.Stdout,
	}
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - Pipeline events will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnEvent receives and displays a pipeline event
func (m *CLIMonitor) OnEvent(evt Event) {
	timestamp := evt.Timestamp.Format("2006-01-02 15:04:05")

	displayMsg := fmt.Sprintf("[%s]", evt.Kind)
	if evt.ContentItemID != 0 {
		displayMsg += fmt.Sprintf(" content=%d", evt.ContentItemID)
	}
	if evt.AccountLabel != "" {
		displayMsg += fmt.Sprintf(" account=%s", evt.AccountLabel)
	}
	if evt.SourceKey != "" {
		displayMsg += fmt.Sprintf(" key=%s", evt.SourceKey)
	}
	if evt.Detail != "" {
		displayMsg += fmt.Sprintf(" %s", evt.Detail)
	}

	// Use gray color for timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", timestamp, displayMsg)
}
