// Package logging provides the leveled line logger used throughout the
// server. It follows the printf-to-stdout, mutex-guarded style of the
// original codebase rather than a structured logging library, since
// none of the reference implementations in this lineage pull one in.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is an ordered log verbosity.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

var mutex sync.Mutex
var current = LevelInfo
var requestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

// SetLevel changes the global verbosity. Safe to call once at startup.
func SetLevel(l Level) {
	mutex.Lock()
	defer mutex.Unlock()
	current = l
}

func line(tag string, msg string) {
	tm := time.Now()
	mutex.Lock()
	defer mutex.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), tag+msg)
}

func enabled(l Level) bool {
	mutex.Lock()
	defer mutex.Unlock()
	return current >= l
}

func Error(err error) {
	if !enabled(LevelError) {
		return
	}
	line("[ERROR] ", err.Error())
}

func Warning(format string, args ...any) {
	if !enabled(LevelWarning) {
		return
	}
	line("[WARNING] ", fmt.Sprintf(format, args...))
}

func Info(format string, args ...any) {
	if !enabled(LevelInfo) {
		return
	}
	line("[INFO] ", fmt.Sprintf(format, args...))
}

func Debug(format string, args ...any) {
	if !enabled(LevelDebug) {
		return
	}
	line("[DEBUG] ", fmt.Sprintf(format, args...))
}

// Request logs one per-connection line, gated separately by LOG_REQUESTS
// for parity with the ancestor server's env-var behavior.
func Request(sessionID uint64, ip string, msg string) {
	if !requestsEnabled || !enabled(LevelInfo) {
		return
	}
	line("[REQUEST] ", fmt.Sprintf("#%d (%s) %s", sessionID, ip, msg))
}
