package hw

import (
	"fmt"
	"os"
)

// flashPageSize mirrors the MCU flash page backing the fob state.
const flashPageSize = 1024

// FileFlash emulates a single flash page in a file, preserving the
// erase-then-program commit discipline: Erase fills the page with 0xFF
// and syncs before Program may write, so a crash between the two leaves
// the erased (unpaired) state on disk.
type FileFlash struct {
	path string
}

// NewFileFlash creates the page file if missing, initialized to the
// erased state.
func NewFileFlash(path string) (*FileFlash, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, erasedPage(), 0o600); err != nil {
			return nil, fmt.Errorf("init flash page: %w", err)
		}
	}
	return &FileFlash{path: path}, nil
}

func erasedPage() []byte {
	page := make([]byte, flashPageSize)
	for i := range page {
		page[i] = 0xFF
	}
	return page
}

func (f *FileFlash) Read() ([]byte, error) {
	page, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	if len(page) < flashPageSize {
		return nil, fmt.Errorf("flash page truncated: %d bytes", len(page))
	}
	return page, nil
}

func (f *FileFlash) Erase() error {
	return f.writeSync(erasedPage())
}

func (f *FileFlash) Program(p []byte) error {
	if len(p) > flashPageSize {
		return fmt.Errorf("program exceeds page: %d bytes", len(p))
	}
	page := erasedPage()
	copy(page, p)
	return f.writeSync(page)
}

func (f *FileFlash) writeSync(page []byte) error {
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteAt(page, 0); err != nil {
		return err
	}
	return file.Sync()
}
