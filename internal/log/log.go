// Package log sets up the subsystem-tagged loggers used throughout
// wsrelayd, in the same style as lnd's log.go: one btclog.Logger per
// subsystem, all backed by a single rotating writer, with a level
// that can be raised or lowered per subsystem at runtime.
package log

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, mirroring lnd's SRVR/PEER/RPCS convention.
const (
	Server    = "SRVR"
	Upgrade   = "UPGR"
	RateLimit = "RATL"
	Registry  = "REGY"
	Relay     = "RLAY"
	Pipeline  = "PIPE"
	Transport = "TRNS"
)

var (
	backendLog = btclog.NewBackend(logWriter{})

	subsystemLoggers = map[string]btclog.Logger{
		Server:    backendLog.Logger(Server),
		Upgrade:   backendLog.Logger(Upgrade),
		RateLimit: backendLog.Logger(RateLimit),
		Registry:  backendLog.Logger(Registry),
		Relay:     backendLog.Logger(Relay),
		Pipeline:  backendLog.Logger(Pipeline),
		Transport: backendLog.Logger(Transport),
	}

	// logRotator is nil until InitLogRotator is called; until then
	// logWriter writes straight to stdout, matching lnd's behavior
	// before logging is fully configured.
	logRotator *rotator.Rotator
)

// logWriter wraps stdout/rotator selection behind io.Writer so
// btclog.NewBackend can be constructed before the log file is known.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if logRotator != nil {
		return logRotator.Write(p)
	}
	return os.Stdout.Write(p)
}

// Get returns the logger for subsystem, defaulting to the Server
// logger if subsystem is unrecognized.
func Get(subsystem string) btclog.Logger {
	if l, ok := subsystemLoggers[subsystem]; ok {
		return l
	}
	return subsystemLoggers[Server]
}

// SetLevel sets the log level (trace/debug/info/warn/error/critical/
// off) on every subsystem logger, mirroring lnd's --debuglevel flag.
func SetLevel(levelStr string) {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		level = btclog.LevelInfo
	}
	for _, l := range subsystemLoggers {
		l.SetLevel(level)
	}
}

// InitLogRotator opens logFile for appending, rotating once it
// exceeds maxLogFileSize MiB, keeping at most maxLogFiles old copies.
// Call once at startup if file logging is desired; until called, logs
// go to stdout only.
func InitLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return err
	}
	logRotator = r
	return nil
}

// Flush flushes any buffered log output. Deferred from main, mirroring
// lnd.go's `defer backendLog.Flush()`.
func Flush() {
	if logRotator != nil {
		logRotator.Close()
	}
}
