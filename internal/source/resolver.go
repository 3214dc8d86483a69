package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/kbimport/internal/config"
	"github.com/JonMunkholm/kbimport/internal/core"
	"github.com/JonMunkholm/kbimport/internal/logging"
)

const copyBufferSize = 1 << 20

// Files are the local copies of a dump and its release file.
type Files struct {
	Dump string
	// Release is empty when no release file was found.
	Release string
	// Downloaded is true when the dump was fetched during this call.
	Downloaded bool
}

// Resolver turns a Location into local files, caching remote dumps in the
// data directory.
type Resolver struct {
	dataDir    string
	countLines bool
	client     *http.Client
}

// NewResolver creates a Resolver from source settings.
func NewResolver(cfg config.SourceConfig) *Resolver {
	return &Resolver{
		dataDir:    cfg.DataDir,
		countLines: cfg.CountLines,
		client:     &http.Client{Timeout: cfg.DownloadTimeout},
	}
}

// WithHTTPClient replaces the client used for downloads.
func (r *Resolver) WithHTTPClient(c *http.Client) *Resolver {
	r.client = c
	return r
}

// Fetch makes the dump at loc available locally. Remote dumps are downloaded
// into the data directory unless already cached there; force re-downloads.
// Local dumps are used in place.
func (r *Resolver) Fetch(ctx context.Context, loc Location, force bool) (Files, error) {
	logger := logging.FromContext(ctx)

	if !loc.Remote {
		if _, err := os.Stat(loc.Dump); err != nil {
			return Files{}, fmt.Errorf("open dump: %w", err)
		}
		files := Files{Dump: loc.Dump}
		if fileExists(loc.Release) {
			files.Release = loc.Release
		}
		return files, nil
	}

	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create data dir: %w", err)
	}

	files := Files{
		Dump:    filepath.Join(r.dataDir, loc.FileName()),
		Release: filepath.Join(r.dataDir, ReleaseFileName),
	}

	if !force && fileExists(files.Dump) {
		logger.Info("using cached dump", "path", files.Dump)
		if !fileExists(files.Release) {
			files.Release = ""
		}
		return files, nil
	}

	logger.Info("downloading dump", "url", loc.Dump, "dest", files.Dump)
	start := time.Now()

	if err := r.download(ctx, loc.Release, files.Release); err != nil {
		// Release info is optional; the import can run without it.
		logger.Warn("release file not downloaded", "url", loc.Release, "error", err)
		files.Release = ""
	}
	if err := r.download(ctx, loc.Dump, files.Dump); err != nil {
		return Files{}, err
	}
	files.Downloaded = true

	logger.Info("download complete", "path", files.Dump, "duration", time.Since(start))
	return files, nil
}

// download fetches url into dest. The file is written to a temporary name
// and renamed into place once complete.
func (r *Resolver) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download failed: %s: %w", url, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download failed: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriterSize(tmp, copyBufferSize)
	if _, err := io.Copy(bw, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("download failed: %s: %w", url, err)
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Opener returns a core.StreamOpener that resolves raw, fetches it and opens
// the dump. Release info and the line-count probe are best effort.
func (r *Resolver) Opener(raw string, force bool) core.StreamOpener {
	return func(ctx context.Context) (*core.Stream, error) {
		logger := logging.FromContext(ctx)

		loc, err := Parse(raw)
		if err != nil {
			return nil, err
		}

		files, err := r.Fetch(ctx, loc, force)
		if err != nil {
			return nil, err
		}

		stream := &core.Stream{Name: loc.String()}

		if files.Release != "" {
			releases, err := ReadReleases(files.Release)
			if err != nil {
				logger.Warn("failed to read release file", "path", files.Release, "error", err)
			}
			stream.Releases = releases
		}

		if r.countLines {
			lines, err := CountLines(ctx, files.Dump)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logger.Warn("line count failed, progress will be approximate", "path", files.Dump, "error", err)
			} else {
				stream.TotalLines = lines
			}
		}

		f, err := os.Open(files.Dump)
		if err != nil {
			return nil, fmt.Errorf("open dump: %w", err)
		}
		if info, err := f.Stat(); err == nil {
			stream.TotalBytes = info.Size()
		}
		stream.Body = f

		return stream, nil
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
