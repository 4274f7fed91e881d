// Package log is the line oriented log sink fetches report to. Every line
// goes to the log files; it is echoed to stdout when the log was opened
// with stdout enabled.
package log

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// lineFormatter writes the bare message, plus any fields as key=value
// pairs, one entry per line.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, k := range sortedKeys(e.Data) {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func sortedKeys(f logrus.Fields) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Log is a logrus backed sink writing to a set of outputs.
type Log struct {
	logger *logrus.Logger
	stdout bool

	mu      sync.Mutex
	buffers []*bufio.Writer
	files   []*os.File
}

// New opens a log writing to each named file, truncating it, and to
// stdout when stdout is true. The name "-" means stdout.
func New(stdout bool, files ...string) (*Log, error) {
	l := &Log{}
	var outs []io.Writer

	for _, name := range files {
		if name == "-" {
			stdout = true
			continue
		}
		f, err := os.Create(name)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("opening log %s: %w", name, err)
		}
		l.files = append(l.files, f)
		w := bufio.NewWriter(f)
		l.buffers = append(l.buffers, w)
		outs = append(outs, w)
	}
	if stdout {
		outs = append(outs, os.Stdout)
	}

	l.stdout = stdout
	l.logger = newLogger(outs...)
	return l, nil
}

// NewWriter returns a log writing to w only, mostly for tests.
func NewWriter(w io.Writer, stdout bool) *Log {
	return &Log{logger: newLogger(w), stdout: stdout}
}

func newLogger(outs ...io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(lineFormatter{})
	logger.SetLevel(logrus.TraceLevel)
	switch len(outs) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(outs[0])
	default:
		logger.SetOutput(io.MultiWriter(outs...))
	}
	return logger
}

// HasStdout reports whether the log already echoes to the console.
func (l *Log) HasStdout() bool {
	return l.stdout
}

// Output writes text to the log, one entry per line of text.
func (l *Log) Output(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		l.logger.Info(line)
	}
}

// Trace writes a debug line with structured fields.
func (l *Log) Trace(msg string, fields logrus.Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.WithFields(fields).Trace(msg)
}

// Flush pushes buffered lines out to the log files.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buffers {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	for _, f := range l.files {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the log files.
func (l *Log) Close() error {
	err := l.Flush()
	for _, f := range l.files {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	l.files = nil
	l.buffers = nil
	return err
}
