package producer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/semmidev/backupd/internal/domain"
)

const volumeMountPath = "/data"

// snapshotVolume streams a tar of the volume through a short-lived helper
// container. The helper is removed on every exit path.
func (p *Producer) snapshotVolume(ctx context.Context, src domain.Source, workDir, base string) (*domain.Artifact, error) {
	p.logger.Infof("[%s] Starting Docker volume backup", src.Name)

	if p.runtime == nil {
		return nil, domain.NewProducerError(nil, "Volume backup failed: container runtime is not configured")
	}

	exists, err := p.runtime.VolumeExists(ctx, src.Volume)
	if err != nil {
		return nil, domain.NewProducerError(err, "Docker volume backup failed: %v", err)
	}
	if !exists {
		return nil, domain.NewProducerError(nil, "Docker volume '%s' not found", src.Volume)
	}

	id, err := p.runtime.StartHelper(ctx, src.Volume)
	if err != nil {
		return nil, domain.NewProducerError(err, "Docker volume backup failed: %v", err)
	}
	defer func() {
		if err := p.runtime.RemoveHelper(context.WithoutCancel(ctx), id); err != nil {
			p.logger.Warnf("[%s] Failed to remove helper container %s: %v", src.Name, id, err)
		}
	}()

	out := filepath.Join(workDir, base+".tar")
	if err := p.exportTo(ctx, id, out); err != nil {
		return nil, domain.NewProducerError(err, "Docker volume backup failed: %v", err)
	}

	p.logger.Infof("[%s] Docker volume backup completed: %s", src.Name, out)
	return artifactFor(out, base, false)
}

func (p *Producer) exportTo(ctx context.Context, id, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	if err := p.runtime.ExportPath(ctx, id, volumeMountPath, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
