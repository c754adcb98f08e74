package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an io.WriteCloser that rotates the backing file once it
// crosses maxSize, keeping up to maxBackups old copies.
type RotatingFile struct {
	mu sync.Mutex

	path       string
	maxSize    int64
	maxBackups int

	file *os.File
	size int64
}

// NewRotatingFile opens (or creates) path and prepares it for rotation.
func NewRotatingFile(path string, maxSize int64, maxBackups int) (*RotatingFile, error) {
	rf := &RotatingFile{
		path:       path,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	dir := filepath.Dir(rf.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rf.file = f
	rf.size = info.Size()
	return nil
}

// Write implements io.Writer, rotating first if p would push the file past
// maxSize.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	writeLen := int64(len(p))
	if rf.maxSize > 0 && rf.size+writeLen > rf.maxSize {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// rotate must be called with rf.mu held.
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			return err
		}
		rf.file = nil
	}

	if rf.maxBackups > 0 {
		last := fmt.Sprintf("%s.%d", rf.path, rf.maxBackups)
		if _, err := os.Stat(last); err == nil {
			if err := os.Remove(last); err != nil {
				return fmt.Errorf("remove oldest backup: %w", err)
			}
		}

		for i := rf.maxBackups - 1; i >= 1; i-- {
			oldPath := fmt.Sprintf("%s.%d", rf.path, i)
			newPath := fmt.Sprintf("%s.%d", rf.path, i+1)
			if _, err := os.Stat(oldPath); err == nil {
				if err := os.Rename(oldPath, newPath); err != nil {
					return fmt.Errorf("shift backup %d: %w", i, err)
				}
			}
		}

		if _, err := os.Stat(rf.path); err == nil {
			if err := os.Rename(rf.path, fmt.Sprintf("%s.1", rf.path)); err != nil {
				return fmt.Errorf("rotate current log: %w", err)
			}
		}
	} else if _, err := os.Stat(rf.path); err == nil {
		if err := os.Remove(rf.path); err != nil {
			return fmt.Errorf("remove current log: %w", err)
		}
	}

	return rf.open()
}

// Close implements io.Closer.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}
