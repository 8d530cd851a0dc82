package files

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileService manages the directory of generated report artifacts.
type FileService struct {
	reportsDir string
}

func NewFileService(reportsDir string) (*FileService, error) {
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return nil, fmt.Errorf("FileService: cannot create dir %s: %w", reportsDir, err)
	}

	return &FileService{reportsDir: reportsDir}, nil
}

// NewReportPath reserves a unique path for a report artifact.
func (fs *FileService) NewReportPath(ext string) string {
	fileName := fmt.Sprintf("%s%s", uuid.New().String(), ext)

	return filepath.Join(fs.reportsDir, fileName)
}

func (fs *FileService) DeleteFile(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("FileService.DeleteFile: %w", err)
	}

	return nil
}
