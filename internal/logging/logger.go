package logging

// Leveled logging for osydiag

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

var levelNames = map[string]LogLevel{
	"silent":  LogLevelSilent,
	"error":   LogLevelError,
	"warn":    LogLevelWarn,
	"info":    LogLevelInfo,
	"verbose": LogLevelVerbose,
	"debug":   LogLevelDebug,
}

// ParseLevel converts a level name to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return LogLevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

func (l LogLevel) String() string {
	for name, level := range levelNames {
		if level == l {
			return name
		}
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Logger provides leveled logging to the console and an optional file
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	format   string
	logEvery int
	counter  int
	file     *os.File
	fileLog  *log.Logger
	stdout   *log.Logger
	stderr   *log.Logger
}

// NewLogger creates a new text logger
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithOptions(level, logFile, "text", 1)
}

// NewLoggerWithOptions creates a logger with an output format ("text" or
// "json") and console sampling: only every logEvery-th non-error message is
// printed when no log file is configured.
func NewLoggerWithOptions(level LogLevel, logFile, format string, logEvery int) (*Logger, error) {
	if format == "" {
		format = "text"
	}
	if logEvery <= 0 {
		logEvery = 1
	}
	l := &Logger{
		level:    level,
		format:   format,
		logEvery: logEvery,
		stdout:   log.New(os.Stdout, "", 0),
		stderr:   log.New(os.Stderr, "", 0),
	}

	if logFile != "" {
		file, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = file
		l.fileLog = log.New(file, "", log.LstdFlags)
		if format == "json" {
			l.fileLog.SetFlags(0)
		}
	}

	return l, nil
}

// NewWriterLogger logs to the given writers instead of stdout/stderr.
func NewWriterLogger(level LogLevel, out, errOut io.Writer) *Logger {
	return &Logger{
		level:    level,
		format:   "text",
		logEvery: 1,
		stdout:   log.New(out, "", 0),
		stderr:   log.New(errOut, "", 0),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(LogLevelSilent, io.Discard, io.Discard)
}

// Close closes the logger and flushes all data
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.enabled(LogLevelError) {
		l.write("error", fmt.Sprintf(format, v...), true)
	}
}

// Warn logs a warning
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.enabled(LogLevelWarn) {
		l.write("warn", fmt.Sprintf(format, v...), true)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.enabled(LogLevelInfo) {
		l.write("info", fmt.Sprintf(format, v...), false)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.enabled(LogLevelVerbose) {
		l.write("verbose", fmt.Sprintf(format, v...), false)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.enabled(LogLevelDebug) {
		l.write("debug", fmt.Sprintf(format, v...), false)
	}
}

func (l *Logger) enabled(level LogLevel) bool {
	if l == nil {
		return false
	}
	return l.GetLevel() >= level
}

func (l *Logger) render(label, msg string) string {
	if l.format == "json" {
		entry := map[string]string{
			"time":    time.Now().Format(time.RFC3339Nano),
			"level":   label,
			"message": msg,
		}
		data, err := json.Marshal(entry)
		if err == nil {
			return string(data)
		}
	}
	return strings.ToUpper(label) + ": " + msg
}

// write writes a message to the appropriate outputs
func (l *Logger) write(label, msg string, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := l.render(label, msg)

	// Always write to log file if available
	if l.fileLog != nil {
		l.fileLog.Println(line)
	}

	// Errors and warnings go to stderr; everything else reaches stdout only at
	// verbose or debug level, sampled when there is no log file.
	if isError {
		l.stderr.Println(line)
		return
	}
	l.counter++
	if l.fileLog == nil && l.counter%l.logEvery != 0 {
		return
	}
	if l.level >= LogLevelVerbose {
		l.stdout.Println(line)
	}
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogOperation logs one service exchange. Failures are logged at info level,
// successes only when verbose.
func (l *Logger) LogOperation(service, target string, success bool, rttMs float64, nrc uint8, err error) {
	if !success {
		msg := fmt.Sprintf("FAILED %s on %s (NRC: 0x%02X, RTT: %.3fms)", service, target, nrc, rttMs)
		if err != nil {
			msg += " - error: " + err.Error()
		}
		l.Info("%s", msg)
		return
	}
	l.Verbose("SUCCESS %s on %s (RTT: %.3fms)", service, target, rttMs)
}

// LogStartup logs session parameters
func (l *Logger) LogStartup(mode, address string, source, target uint16, timeout time.Duration, configPath string) {
	l.Info("Starting osydiag %s session", mode)
	l.Verbose("  Node: %s", address)
	l.Verbose("  Logical addresses: 0x%04X -> 0x%04X", source, target)
	l.Verbose("  Timeout: %s", timeout)
	l.Verbose("  Config: %s", configPath)
}

// LogHex logs hex data (for debug level)
func (l *Logger) LogHex(label string, data []byte) {
	if !l.enabled(LogLevelDebug) {
		return
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	l.Debug("%s: %s", label, strings.Join(parts, " "))
}
