package google

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"
)

const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Archiver uploads downloaded report spreadsheets to a Drive folder so
// every harvested report stays retrievable after relay.
type Archiver struct {
	service  *drive.Service
	folderID string
}

// NewArchiverFromEnv builds an archiver from the environment. Returns
// nil, nil when Drive archival is disabled; the folder must be shared
// with the service account (Editor access).
func NewArchiverFromEnv() (*Archiver, error) {
	if !IsEnabled() {
		return nil, nil
	}

	folderID := GetFolderID()
	if folderID == "" {
		return nil, fmt.Errorf("GOOGLE_DRIVE_FOLDER_ID not set - required for report archival")
	}

	srv, err := NewDriveClient(context.Background())
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("google drive client is nil")
	}

	return &Archiver{service: srv, folderID: folderID}, nil
}

// ArchiveReport stores one spreadsheet under the configured folder.
func (a *Archiver) ArchiveReport(ctx context.Context, name string, data []byte) error {
	file := &drive.File{
		Name:     name,
		MimeType: xlsxMimeType,
		Parents:  []string{a.folderID},
	}

	_, err := a.service.Files.Create(file).
		Media(bytes.NewReader(data)).
		SupportsAllDrives(true). // Required for Shared Drives
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", name, err)
	}
	return nil
}
