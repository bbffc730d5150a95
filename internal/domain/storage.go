package domain

import (
	"context"
	"time"
)

// Storage is an archive mirror that keeps copies of delivered artifacts.
type Storage interface {
	Name() string
	Upload(ctx context.Context, localPath string, remoteName string) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, remoteName string) error
	GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error)
}
