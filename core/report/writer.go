// Package report stores generated report documents on disk.
package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is the name the report is offered under.
const DefaultFileName = "تقرير_هندسي.docx"

// maxCopies bounds the numbered variants tried when the name is taken.
const maxCopies = 1000

var ErrEmptyDocument = errors.New("empty report document")

// DirWriter saves documents into one directory. It never overwrites an
// existing file: a taken name gets a numbered suffix instead.
type DirWriter struct {
	Dir      string
	FileName string
}

func NewDirWriter(dir, fileName string) *DirWriter {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &DirWriter{Dir: dir, FileName: fileName}
}

// Save writes document and returns the path it was written to.
func (w *DirWriter) Save(document []byte) (string, error) {
	if len(document) == 0 {
		return "", ErrEmptyDocument
	}

	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}

	ext := filepath.Ext(w.FileName)
	base := strings.TrimSuffix(w.FileName, ext)
	for i := 0; i < maxCopies; i++ {
		name := w.FileName
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create report file: %w", err)
		}

		if _, err := f.Write(document); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("failed to write report file: %w", err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("failed to close report file: %w", err)
		}
		return path, nil
	}

	return "", fmt.Errorf("no free file name for %s in %s", w.FileName, dir)
}
