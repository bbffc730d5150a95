package usecase

import (
	"context"
	"sync"
)

// mirror copies a packaged artifact to every archive target concurrently.
// Failures are logged and never fail the run.
func mirror(ctx context.Context, targets []ArchiveTarget, logger Logger, label, filePath, filename string) {
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(t ArchiveTarget) {
			defer wg.Done()

			logger.Infof("[%s] Uploading to %s...", label, t.Name)
			if err := t.Storage.Upload(ctx, filePath, filename); err != nil {
				logger.Errorf("[%s] Failed to upload to %s: %v", label, t.Name, err)
			} else {
				logger.Infof("[%s] Successfully uploaded to %s", label, t.Name)
			}
		}(target)
	}

	wg.Wait()
}
