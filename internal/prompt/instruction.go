package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Static is a fixed instruction.
type Static string

func (s Static) Instruction() string {
	return string(s)
}

// FileInstruction serves an instruction read from a file and reloads it when
// the file changes on disk.
type FileInstruction struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	text    string
	watcher *fsnotify.Watcher
}

// LoadFileInstruction reads path. The file must exist and be non-empty.
func LoadFileInstruction(path string, logger *zap.Logger) (*FileInstruction, error) {
	f := &FileInstruction{
		path:     path,
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Instruction returns the last successfully loaded text.
func (f *FileInstruction) Instruction() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.text
}

func (f *FileInstruction) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read instruction %s: %w", f.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("instruction %s is empty", f.path)
	}

	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	return nil
}

// Watch reloads the file on change until ctx is done. The parent directory
// is watched so that editors replacing the file are picked up. A failed
// reload keeps the previous text.
func (f *FileInstruction) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(f.path)); err != nil {
		fsw.Close()
		return err
	}
	f.watcher = fsw

	f.logger.Info("Watching instruction file", zap.String("path", f.path))

	go f.processEvents(ctx)
	return nil
}

func (f *FileInstruction) processEvents(ctx context.Context) {
	defer f.watcher.Close()

	target := filepath.Clean(f.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := f.reload(); err != nil {
				f.logger.Warn("Instruction reload failed, keeping previous version",
					zap.String("path", f.path), zap.Error(err))
				continue
			}
			f.logger.Info("Instruction reloaded", zap.String("path", f.path))

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("Instruction watcher error", zap.Error(err))
		}
	}
}
