package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveStats counts what WriteArchive stored.
type ArchiveStats struct {
	Files   int
	Dirs    int
	Links   int
	Bytes   int64
	Skipped int
}

// WriteArchive writes a gzip-compressed tarball of the given directories to
// path. Entry names are the source paths without the leading slash, as tar
// itself would store them. Files that cannot be read are counted in
// Skipped; sockets, devices and fifos are ignored.
func WriteArchive(ctx context.Context, path string, sources ...string) (stats ArchiveStats, err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, src := range sources {
		if err := addTree(ctx, tw, src, &stats); err != nil {
			return stats, err
		}
	}

	if err := tw.Close(); err != nil {
		return stats, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return stats, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return stats, nil
}

func addTree(ctx context.Context, tw *tar.Writer, root string, stats *ArchiveStats) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			stats.Skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			stats.Skipped++
			return nil
		}

		name := strings.TrimPrefix(filepath.ToSlash(p), "/")
		switch mode := info.Mode(); {
		case mode.IsDir():
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			stats.Dirs++
			return tw.WriteHeader(hdr)

		case mode&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				stats.Skipped++
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, target)
			if err != nil {
				return err
			}
			hdr.Name = name
			stats.Links++
			return tw.WriteHeader(hdr)

		case mode.IsRegular():
			return addFile(tw, p, name, info, stats)

		default:
			return nil
		}
	})
}

func addFile(tw *tar.Writer, p, name string, info fs.FileInfo, stats *ArchiveStats) error {
	f, err := os.Open(p)
	if err != nil {
		stats.Skipped++
		return nil
	}
	defer f.Close()

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	// The header promised info.Size() bytes; a file that grew or shrank
	// meanwhile must still produce exactly that many.
	n, err := io.CopyN(tw, f, info.Size())
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to archive %s: %w", p, err)
	}
	if n < info.Size() {
		if _, err := tw.Write(make([]byte, info.Size()-n)); err != nil {
			return err
		}
	}
	stats.Files++
	stats.Bytes += info.Size()
	return nil
}
