// Package activitylog writes the raw per-category monitoring log lines that
// accompany the event log in the session report.
package activitylog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Category names one raw log stream.
type Category string

// Log categories.
const (
	CategoryGaze     Category = "gaze_tracking"
	CategoryLipAudio Category = "lip_audio"
	CategoryWebsite  Category = "website_usage"
)

// Categories lists the categories in report order.
func Categories() []Category {
	return []Category{CategoryGaze, CategoryLipAudio, CategoryWebsite}
}

const (
	defaultTailSize = 500
	fileMode        = 0o644
	dirMode         = 0o755
)

// Line is one raw log entry.
type Line struct {
	Category Category  `json:"category"`
	At       time.Time `json:"at"`
	Message  string    `json:"message"`
}

// String renders the line as "[YYYY-MM-DD HH:MM:SS] message".
func (l Line) String() string {
	return fmt.Sprintf("[%s] %s", l.At.Format(model.TimeLayout), l.Message)
}

// Option configures a Log.
type Option func(*Log)

// WithTailSize sets how many lines per category are kept in memory.
func WithTailSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.tailSize = n
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(lg logger.Logger) Option {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// Log fans lines out to one file per category and keeps a bounded tail
// of each category in memory. Write failures are logged, never returned.
type Log struct {
	mu       sync.Mutex
	writers  map[Category]io.WriteCloser
	tail     map[Category][]Line
	tailSize int
	logger   logger.Logger
}

// Open creates the category files under dir. An empty dir keeps the log in memory only.
func Open(dir string, opts ...Option) (*Log, error) {
	l := &Log{
		writers:  make(map[Category]io.WriteCloser),
		tail:     make(map[Category][]Line),
		tailSize: defaultTailSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Named("activitylog")
	}
	if dir == "" {
		return l, nil
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	for _, c := range Categories() {
		f, err := os.OpenFile(Path(dir, c), os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("open %s log: %w", c, err)
		}
		l.writers[c] = f
	}
	return l, nil
}

// Path returns the file path of category c under dir.
func Path(dir string, c Category) string {
	return filepath.Join(dir, string(c)+"_logs.txt")
}

// Write records message under category c.
func (l *Log) Write(ctx context.Context, c Category, at time.Time, message string) {
	line := Line{Category: c, At: at, Message: message}

	l.mu.Lock()
	defer l.mu.Unlock()

	t := append(l.tail[c], line)
	if len(t) > l.tailSize {
		t = t[len(t)-l.tailSize:]
	}
	l.tail[c] = t

	w, ok := l.writers[c]
	if !ok {
		return
	}
	if _, err := io.WriteString(w, line.String()+"\n"); err != nil {
		metrics.RecordErrorByComponent("activitylog", "write")
		l.logger.Warn(ctx, "activity log write failed",
			logger.String("category", string(c)), logger.Error(err))
	}
}

// Writef formats and records a message.
func (l *Log) Writef(ctx context.Context, c Category, at time.Time, format string, args ...any) {
	l.Write(ctx, c, at, fmt.Sprintf(format, args...))
}

// Lines returns the retained lines of category c, oldest first.
func (l *Log) Lines(c Category) []Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Line(nil), l.tail[c]...)
}

// Snapshot returns the retained lines of every category.
func (l *Log) Snapshot() map[Category][]Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Category][]Line, len(l.tail))
	for c, lines := range l.tail {
		out[c] = append([]Line(nil), lines...)
	}
	return out
}

// Close closes every category file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for c, w := range l.writers {
		errs = append(errs, w.Close())
		delete(l.writers, c)
	}
	return errors.Join(errs...)
}
