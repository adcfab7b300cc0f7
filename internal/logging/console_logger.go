package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ConsoleLogger writes one line per message to stderr.
type ConsoleLogger struct {
	verbose bool
	mu      sync.Mutex
	out     io.Writer
}

var _ pgtenant.Logger = (*ConsoleLogger)(nil)

// NewConsoleLogger creates a logger on stderr. Verbose messages are only
// printed when verbose is true.
func NewConsoleLogger(verbose bool) *ConsoleLogger {
	return NewConsoleLoggerTo(os.Stderr, verbose)
}

// NewConsoleLoggerTo creates a logger writing to out.
func NewConsoleLoggerTo(out io.Writer, verbose bool) *ConsoleLogger {
	return &ConsoleLogger{verbose: verbose, out: out}
}

func (l *ConsoleLogger) Verbose(format string, args ...interface{}) {
	if l.verbose {
		l.write("[VERBOSE] ", format, args)
	}
}

func (l *ConsoleLogger) Info(format string, args ...interface{}) {
	l.write("", format, args)
}

func (l *ConsoleLogger) Warn(format string, args ...interface{}) {
	l.write("[WARN] ", format, args)
}

func (l *ConsoleLogger) Error(format string, args ...interface{}) {
	l.write("[ERROR] ", format, args)
}

func (l *ConsoleLogger) write(prefix, format string, args []interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, prefix+msg)
}
