package hw

import (
	"bytes"
	"fmt"
	"os"
)

// eepromSize matches the 2K EEPROM on the target board.
const eepromSize = 2048

// FileEEPROM is a read-only EEPROM image loaded whole at boot, served
// through io.ReaderAt like the blocking on-chip reads it stands in for.
type FileEEPROM struct {
	r *bytes.Reader
}

// LoadEEPROM reads an image file. Short images are rejected rather than
// padded; the banner offsets sit near the top of the array.
func LoadEEPROM(path string) (*FileEEPROM, error) {
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load EEPROM image: %w", err)
	}
	if len(img) < eepromSize {
		return nil, fmt.Errorf("EEPROM image too small: %d bytes, need %d", len(img), eepromSize)
	}
	return &FileEEPROM{r: bytes.NewReader(img)}, nil
}

func (e *FileEEPROM) ReadAt(p []byte, off int64) (int, error) {
	return e.r.ReadAt(p, off)
}
