package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// SessionMetadata is the first JSON line in each session log file.
type SessionMetadata struct {
	SessionID string `json:"session_id"`
	StartedAt string `json:"started_at"`
}

// LogEntry is a single JSON log line written after the metadata line.
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// TurnRecord is one finished turn as written to the turn log.
type TurnRecord struct {
	TurnID     string    `json:"turn_id"`
	Kind       string    `json:"kind"` // "received" or "idle"
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationS  float64   `json:"utterance_seconds,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Rule       string    `json:"rule,omitempty"`
	Response   string    `json:"response,omitempty"`
	Silent     bool      `json:"silent,omitempty"`
	Voice      string    `json:"voice,omitempty"`
	Asset      string    `json:"asset,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// LogWriter abstracts the destination for session log entries.
type LogWriter interface {
	Write(level, msg string, attrs map[string]interface{})
	Close()
}

// SessionLogWriter writes structured lines to a per-session .jsonl file.
// Besides log entries it accepts TurnRecords, so one file holds the full
// history of a run.
type SessionLogWriter struct {
	mu        sync.Mutex
	file      *os.File
	logDir    string
	sessionID string
}

// NewSessionLogWriter creates the log directory and session log file,
// writes the metadata first line, and creates an .active marker file.
func NewSessionLogWriter(logDir, sessionID string) (*SessionLogWriter, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage logger: mkdir %q: %w", logDir, err)
	}

	filePath := filepath.Join(logDir, sessionID+".jsonl")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage logger: create %q: %w", filePath, err)
	}

	w := &SessionLogWriter{
		file:      f,
		logDir:    logDir,
		sessionID: sessionID,
	}
	w.writeLine(SessionMetadata{
		SessionID: sessionID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})

	activePath := filepath.Join(logDir, sessionID+".active")
	if af, err := os.Create(activePath); err == nil {
		af.Close()
	}

	return w, nil
}

// Path is the location of the session file.
func (w *SessionLogWriter) Path() string {
	return filepath.Join(w.logDir, w.sessionID+".jsonl")
}

// Write appends a structured log line to the session file.
func (w *SessionLogWriter) Write(level, msg string, attrs map[string]interface{}) {
	w.writeLine(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     attrs,
	})
}

// WriteTurn appends a finished turn.
func (w *SessionLogWriter) WriteTurn(rec TurnRecord) {
	w.writeLine(rec)
}

func (w *SessionLogWriter) writeLine(v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(data, '\n'))
	}
}

// Close closes the log file, then removes the .active marker.
func (w *SessionLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	os.Remove(filepath.Join(w.logDir, w.sessionID+".active"))
}

// NewSessionLogger creates a Logger that tees output to both the base logger
// (console) and the provided LogWriter. Only warnings and above reach the
// writer; the console keeps its own threshold.
func NewSessionLogger(baseLogger *Logger, writer LogWriter) *Logger {
	handler := func(level Level, msg string, attrs map[string]interface{}) {
		if baseLogger.handlerFunc != nil {
			baseLogger.handlerFunc(level, msg, attrs)
		}
		if level >= LevelWarn {
			writer.Write(level.String(), msg, attrs)
		}
	}

	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
	}
}
