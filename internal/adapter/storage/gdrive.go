package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/semmidev/backupd/internal/config"
)

type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

// NewGDrive authenticates with a service account key, or with an OAuth
// client secret plus the token file written by the gdrive-auth command.
func NewGDrive(ctx context.Context, cfg *config.ArchiveTarget) (*GDriveStorage, error) {
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("gdrive folder_id is required")
	}

	var opt option.ClientOption
	if cfg.TokenFile != "" {
		ts, err := oauthTokenSource(ctx, cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		opt = option.WithTokenSource(ts)
	} else {
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	service, err := drive.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func oauthTokenSource(ctx context.Context, secretPath, tokenPath string) (oauth2.TokenSource, error) {
	secret, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}
	oc, err := google.ConfigFromJSON(secret, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	raw, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("unable to parse token file: %w", err)
	}

	return oc.TokenSource(ctx, &tok), nil
}

func (g *GDriveStorage) Name() string {
	return "gdrive:" + g.folderID
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    remoteName,
		Parents: []string{g.folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

func (g *GDriveStorage) List(ctx context.Context) ([]string, error) {
	files, err := g.query(ctx, fmt.Sprintf("'%s' in parents and trashed=false", g.folderID))
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}

func (g *GDriveStorage) Delete(ctx context.Context, remoteName string) error {
	q := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", g.folderID, escapeQuery(remoteName))
	files, err := g.query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("file not found: %s", remoteName)
	}

	for _, f := range files {
		if err := g.service.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	return nil
}

func (g *GDriveStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false and createdTime < '%s'",
		g.folderID,
		cutoffTime.UTC().Format(time.RFC3339))

	files, err := g.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list old files: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}

func (g *GDriveStorage) query(ctx context.Context, q string) ([]*drive.File, error) {
	var out []*drive.File
	err := g.service.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, createdTime)").
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			out = append(out, page.Files...)
			return nil
		})
	return out, err
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
