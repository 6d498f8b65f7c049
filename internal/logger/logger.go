// Package logger records timestamped tool poses to CSV files. One row is
// written per tool per tracking frame; files rotate on size and whenever a
// new tracking session begins.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tracklab/nditracker/internal/tracker"
)

// Logger records pose frames to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file    *os.File
	writer  *csv.Writer
	lastTs  time.Time
	rows    int
	session string
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~1.4 hrs for 2 tools at 10 Hz)
)

var csvHeader = []string{
	"timestamp", "session", "seq", "tool", "serial", "frame", "valid",
	"qw", "qx", "qy", "qz",
	"x_mm", "y_mm", "z_mm",
	"tip_x_mm", "tip_y_mm", "tip_z_mm",
	"rms_mm",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/nditracker"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 10*time.Millisecond {
		interval = 100 * time.Millisecond // Default 10 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one row per tool if the minimum interval has elapsed. A
// frame from a new session forces a rotation so every file belongs to
// exactly one session.
func (l *Logger) Record(frame *tracker.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || frame == nil {
		return
	}

	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile || l.session != frame.SessionID {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
		l.session = frame.SessionID
	}

	for i := range frame.Tools {
		row := buildRow(frame, &frame.Tools[i])
		if err := l.writer.Write(row); err != nil {
			log.Printf("[logger] write failed: %v", err)
			return
		}
		l.rows++
	}
	l.writer.Flush()
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("poses_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(frame *tracker.Frame, t *tracker.ToolSnapshot) []string {
	row := make([]string, len(csvHeader))

	row[0] = frame.Captured.Format(time.RFC3339Nano)
	row[1] = frame.SessionID
	row[2] = fmt.Sprintf("%d", frame.Seq)
	row[3] = t.Name
	row[4] = t.SerialNumber
	row[5] = fmt.Sprintf("%d", t.FrameNumber)
	row[6] = boolStr(t.MarkerPose.Valid)

	if t.MarkerPose.Valid {
		row[7] = fmt.Sprintf("%.4f", t.MarkerPose.Rotation.W)
		row[8] = fmt.Sprintf("%.4f", t.MarkerPose.Rotation.X)
		row[9] = fmt.Sprintf("%.4f", t.MarkerPose.Rotation.Y)
		row[10] = fmt.Sprintf("%.4f", t.MarkerPose.Rotation.Z)
		row[11] = fmt.Sprintf("%.2f", t.MarkerPose.Translation.X)
		row[12] = fmt.Sprintf("%.2f", t.MarkerPose.Translation.Y)
		row[13] = fmt.Sprintf("%.2f", t.MarkerPose.Translation.Z)
		row[14] = fmt.Sprintf("%.2f", t.TooltipPose.Translation.X)
		row[15] = fmt.Sprintf("%.2f", t.TooltipPose.Translation.Y)
		row[16] = fmt.Sprintf("%.2f", t.TooltipPose.Translation.Z)
		row[17] = fmt.Sprintf("%.4f", t.ErrorRMS)
	}

	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
