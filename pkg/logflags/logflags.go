package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const DefaultLogDesc = ""

var (
	http     = false
	grpc     = false
	memory   = false
	index    = false
	scan     = false
	analysis = false
)

var logOut io.WriteCloser = nopCloser{os.Stderr}

var errLogstrWithoutLog = errors.New("--logStr passed without --logFlag")

// Logger is the logging surface every component depends on.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Setup sets the log flags, debug output is enabled for the
// comma-separated components listed in logStr.
// logDest is either a file path or a file descriptor number.
func Setup(logFlag bool, logStr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "apiscope-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %w", err)
			}
			logOut = fh
		}
	}

	if !logFlag {
		if logStr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}

	if logStr == "" {
		logStr = "analysis"
	}

	for _, c := range strings.Split(logStr, ",") {
		switch strings.TrimSpace(c) {
		case "http":
			http = true
		case "grpc":
			grpc = true
		case "memory":
			memory = true
		case "index":
			index = true
		case "scan":
			scan = true
		case "analysis":
			analysis = true
		case "all":
			http, grpc, memory, index, scan, analysis = true, true, true, true, true, true
		default:
			return fmt.Errorf("unknown log component %q", c)
		}
	}

	return nil
}

// Close closes the logger output destination.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
