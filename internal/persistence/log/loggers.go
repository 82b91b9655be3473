// Package log persists the hub's observability streams as hourly
// rotated, zstd-compressed JSONL files: fleet chat, orchestrator task
// events and the security audit trail.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to an hourly rotated .jsonl.zst
// file. Rotation happens on the first write of each UTC hour.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ChatEntry is one fleet chat line.
type ChatEntry struct {
	TS   time.Time `json:"ts"`
	From string    `json:"from"`
	Text string    `json:"text"`
}

// EventEntry is one orchestrator task transition or progress frame.
type EventEntry struct {
	TS      time.Time `json:"ts"`
	TaskID  string    `json:"task_id"`
	Status  string    `json:"status"`
	Overall float64   `json:"overall"`
	Detail  string    `json:"detail,omitempty"`
}

// AuditEntry is one security-relevant decision: a privileged command,
// a rejection or an admin-set change.
type AuditEntry struct {
	TS        time.Time `json:"ts"`
	Principal string    `json:"principal"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// ChatLogger persists chat lines (compressed).
type ChatLogger struct{ w *JSONLZstdWriter }

func NewChatLogger(dataDir string) *ChatLogger {
	return &ChatLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "chat"), "chat")}
}

func (l *ChatLogger) WriteChat(v ChatEntry) error { return l.w.Write(v) }
func (l *ChatLogger) Close() error                { return l.w.Close() }

// EventLogger persists task events (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(v EventEntry) error { return l.w.Write(v) }
func (l *EventLogger) Close() error                  { return l.w.Close() }

// AuditLogger persists the audit trail (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                  { return l.w.Close() }
