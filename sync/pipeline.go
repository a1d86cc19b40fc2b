package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkpress/royaltyrelay/pocketbase/kdp"
)

// ReportClient is the upstream portal surface the pipeline drives.
// *kdp.Client satisfies it.
type ReportClient interface {
	RetrieveToken(ctx context.Context) (string, error)
	ResolveReportURL(ctx context.Context, token string, w kdp.Window) (string, error)
	DownloadReport(ctx context.Context, reportURL string) ([]byte, error)
	UploadReport(ctx context.Context, report []byte, email string) error
}

// Archiver stores a copy of a downloaded report. Archival is best
// effort and never affects the run outcome.
type Archiver interface {
	ArchiveReport(ctx context.Context, name string, data []byte) error
}

// Pipeline executes one full report transfer: authenticate, resolve
// the download URL, fetch the spreadsheet, and relay it to the
// collection endpoint.
type Pipeline struct {
	client   ReportClient
	status   *StatusStore
	archiver Archiver
	now      func() time.Time
}

// NewPipeline wires the transfer stages. archiver may be nil.
func NewPipeline(client ReportClient, status *StatusStore, archiver Archiver) *Pipeline {
	return &Pipeline{
		client:   client,
		status:   status,
		archiver: archiver,
		now:      time.Now,
	}
}

// Run transfers the report covering the trailing windowDays and maps
// each failure to the stage it occurred in. The returned error carries
// detail for logging; the Outcome is what gets persisted.
func (p *Pipeline) Run(ctx context.Context, windowDays int) (Outcome, error) {
	window := WindowFor(windowDays, p.now())
	logger := slog.With("range", windowDays, "start", window.StartDate, "end", window.EndDate)
	logger.Info("Starting report transfer")

	token, err := p.client.RetrieveToken(ctx)
	if err != nil {
		return OutcomeFailedFetchURL, fmt.Errorf("retrieving session token: %w", err)
	}

	reportURL, err := p.client.ResolveReportURL(ctx, token, window)
	if err != nil {
		return OutcomeFailedFetchURL, fmt.Errorf("resolving report url: %w", err)
	}
	logger.Debug("Resolved report url")

	report, err := p.client.DownloadReport(ctx, reportURL)
	if err != nil {
		return OutcomeFailedDownload, fmt.Errorf("downloading report: %w", err)
	}
	logger.Info("Downloaded report", "bytes", len(report))

	p.archive(ctx, windowDays, report)

	email := p.status.Email()
	if email == "" {
		return OutcomeFailedUpload, fmt.Errorf("no delivery email configured")
	}
	if err := p.client.UploadReport(ctx, report, email); err != nil {
		return OutcomeFailedUpload, fmt.Errorf("uploading report: %w", err)
	}

	logger.Info("Report transfer completed")
	return OutcomeCompleted, nil
}

func (p *Pipeline) archive(ctx context.Context, windowDays int, report []byte) {
	if p.archiver == nil {
		return
	}
	name := fmt.Sprintf("royalties_%dd_%s.xlsx", windowDays, p.now().UTC().Format("20060102T150405Z"))
	if err := p.archiver.ArchiveReport(ctx, name, report); err != nil {
		slog.Warn("Report archival failed", "name", name, "error", err)
	}
}
