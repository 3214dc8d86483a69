// Package source resolves where a knowledge-base dump comes from, fetches it
// into the local data directory and opens it for import.
package source

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ReleaseFileName is the release-date file published next to every dump.
const ReleaseFileName = "reldate.txt"

// uniprotFTPHost also serves its tree over https.
const uniprotFTPHost = "ftp.uniprot.org"

// Location is a parsed dump location.
type Location struct {
	// Raw is the location as given.
	Raw string

	// Remote is true for http(s) locations.
	Remote bool

	// Dump is the URL or absolute path of the compressed dump.
	Dump string

	// Release is the URL or path of reldate.txt in the same directory.
	Release string
}

// FileName is the base name of the dump.
func (l Location) FileName() string {
	if l.Remote {
		return path.Base(l.Dump)
	}
	return filepath.Base(l.Dump)
}

// String returns the normalized dump location.
func (l Location) String() string { return l.Dump }

// Parse parses a dump URL or local path.
//
// http and https URLs are fetched. ftp URLs on the UniProt host are rewritten
// to https; other ftp hosts are not supported. file URLs and plain paths are
// read in place.
func Parse(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("unsupported source: empty location")
	}

	u, err := url.Parse(raw)
	// One-letter schemes are Windows drive letters.
	if err != nil || len(u.Scheme) <= 1 {
		return localLocation(raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "ftp":
		if !strings.EqualFold(u.Hostname(), uniprotFTPHost) {
			return Location{}, fmt.Errorf("unsupported source: ftp host %q (only %s is mirrored over https)", u.Host, uniprotFTPHost)
		}
		u.Scheme = "https"
	case "file":
		return localLocation(u.Path)
	default:
		return Location{}, fmt.Errorf("unsupported source scheme %q in %q", u.Scheme, raw)
	}

	if path.Base(u.Path) == "/" || path.Base(u.Path) == "." || strings.HasSuffix(u.Path, "/") {
		return Location{}, fmt.Errorf("unsupported source: %q does not name a file", raw)
	}

	rel := *u
	rel.Path = path.Join(path.Dir(u.Path), ReleaseFileName)
	rel.RawQuery = ""

	return Location{
		Raw:     raw,
		Remote:  true,
		Dump:    u.String(),
		Release: rel.String(),
	}, nil
}

func localLocation(p string) (Location, error) {
	if p == "" {
		return Location{}, fmt.Errorf("unsupported source: empty path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Location{}, fmt.Errorf("resolve %q: %w", p, err)
	}
	return Location{
		Raw:     p,
		Dump:    abs,
		Release: filepath.Join(filepath.Dir(abs), ReleaseFileName),
	}, nil
}
