package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newtron-network/newtfleet/pkg/util"
)

// Logger is an audit backend.
type Logger interface {
	Log(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// RotationConfig configures log file rotation
type RotationConfig struct {
	MaxSize    int64 // bytes before the active file is rotated; 0 never rotates
	MaxBackups int   // rotated files kept; 0 keeps all
}

// DefaultRotation keeps five 10 MiB backups.
var DefaultRotation = RotationConfig{MaxSize: 10 << 20, MaxBackups: 5}

// backupStamp sorts lexically in rotation order.
const backupStamp = "20060102-150405.000000"

// FileLogger appends events as JSON lines. Rotated files are named
// <path>.<timestamp> and are still searched by Query.
type FileLogger struct {
	path     string
	rotation RotationConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileLogger opens (creating if needed) the audit log at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	l := &FileLogger{path: path, rotation: rotation}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("opening audit log: %w", err)
	}
	l.file, l.size = f, info.Size()
	return nil
}

// Log appends event, rotating first when the file is full. Events without
// an ID or timestamp get one.
func (l *FileLogger) Log(event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("audit log %s is closed", l.path)
	}
	if l.rotation.MaxSize > 0 && l.size > 0 && l.size+int64(len(line)) > l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotating audit log: %w", err)
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	return err
}

// Query returns matching events oldest first, across rotated files and the
// active file. Malformed lines are skipped with a warning.
func (l *FileLogger) Query(filter Filter) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := append(l.backups(), l.path)
	var events []*Event
	for _, path := range files {
		found, err := scan(path, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, found...)
	}
	return filter.page(events), nil
}

func scan(path string, filter Filter) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []*Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		e := &Event{}
		if err := json.Unmarshal(sc.Bytes(), e); err != nil {
			util.WithFields(map[string]interface{}{"file": path, "line": n}).Warnf("Skipping malformed audit entry: %v", err)
			continue
		}
		if filter.Match(e) {
			events = append(events, e)
		}
	}
	return events, sc.Err()
}

// Close closes the active file. Further Log calls fail.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	backup := l.path + "." + time.Now().Format(backupStamp)
	if err := os.Rename(l.path, backup); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}
	if keep := l.rotation.MaxBackups; keep > 0 {
		old := l.backups()
		for len(old) > keep {
			if err := os.Remove(old[0]); err != nil {
				util.Warnf("Removing old audit log %s: %v", old[0], err)
			}
			old = old[1:]
		}
	}
	return nil
}

// backups lists rotated files, oldest first.
func (l *FileLogger) backups() []string {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}
