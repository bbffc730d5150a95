// Package packager turns raw artifacts into the output format of a job.
package packager

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/semmidev/backupd/internal/domain"
)

type Packager struct {
	level int
}

func New() *Packager {
	return &Packager{level: gzip.BestCompression}
}

// Package returns the final artifact for format. Plain SQL dumps requested
// as sql are renamed in place; everything else becomes <base>.tar.gz with
// the raw file as its only entry. Errors are *domain.ProducerError.
func (p *Packager) Package(raw *domain.Artifact, format domain.OutputFormat) (*domain.Artifact, error) {
	dir := filepath.Dir(raw.Path)

	if format == domain.FormatSQL && raw.PlainSQL {
		final := filepath.Join(dir, raw.BaseName+".sql")
		if final != raw.Path {
			if err := os.Rename(raw.Path, final); err != nil {
				return nil, domain.NewProducerError(err, "Failed to finalize SQL file: %v", err)
			}
		}
		return stat(final, raw.BaseName, true)
	}

	final := filepath.Join(dir, raw.BaseName+".tar.gz")
	if err := p.compress(raw.Path, final); err != nil {
		return nil, domain.NewProducerError(err, "Compression failed: %v", err)
	}
	return stat(final, raw.BaseName, false)
}

func (p *Packager) compress(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	info, err := sourceFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}

	gzipWriter, err := gzip.NewWriterLevel(destFile, p.level)
	if err != nil {
		destFile.Close()
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tarWriter := tar.NewWriter(gzipWriter)

	if err := writeEntry(tarWriter, sourceFile, info); err != nil {
		destFile.Close()
		return err
	}

	if err := tarWriter.Close(); err != nil {
		destFile.Close()
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		destFile.Close()
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return destFile.Close()
}

func writeEntry(tw *tar.Writer, r io.Reader, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header: %w", err)
	}
	hdr.Name = info.Name()

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}
	return nil
}

func stat(path, base string, plainSQL bool) (*domain.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.NewProducerError(err, "Packaged file missing: %v", err)
	}
	return &domain.Artifact{Path: path, BaseName: base, Size: info.Size(), PlainSQL: plainSQL}, nil
}
