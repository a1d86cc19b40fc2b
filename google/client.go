// Package google provides the Google Drive archival client.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	envEnabled = "GOOGLE_DRIVE_ENABLED"
	envKeyFile = "GOOGLE_SERVICE_ACCOUNT_KEY_FILE"
	envFolder  = "GOOGLE_DRIVE_FOLDER_ID"

	defaultKeyFile = "../google_drive.json" // repo root, alongside .env
)

// IsEnabled returns true if Drive archival is enabled via environment variable
func IsEnabled() bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(envEnabled)))
	return val == "true" || val == "1"
}

// GetFolderID returns the configured Drive folder for archived reports
func GetFolderID() string {
	return strings.TrimSpace(os.Getenv(envFolder))
}

// NewDriveClient creates a Google Drive API client using service
// account credentials. Returns nil, nil if archival is disabled.
func NewDriveClient(ctx context.Context) (*drive.Service, error) {
	if !IsEnabled() {
		return nil, nil
	}

	credJSON, err := getCredentialsJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credJSON, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return srv, nil
}

// getCredentialsJSON retrieves the service account credentials JSON.
// Reads from the file named by GOOGLE_SERVICE_ACCOUNT_KEY_FILE,
// defaulting to google_drive.json at the repo root.
func getCredentialsJSON() ([]byte, error) {
	keyFile := strings.TrimSpace(os.Getenv(envKeyFile))
	if keyFile == "" {
		keyFile = defaultKeyFile
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", keyFile, err)
	}
	return data, nil
}
