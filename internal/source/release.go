package source

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/JonMunkholm/kbimport/internal/core"
)

var releasePattern = regexp.MustCompile(`UniProtKB/(Swiss-Prot|TrEMBL) Release (\d{4}_\d{2}) of (\d{2}-\w{3}-\d{4})`)

// releaseDateLayout matches dates like 24-Jan-2024.
const releaseDateLayout = "02-Jan-2006"

// ParseReleases extracts every release announced in reldate.txt content.
func ParseReleases(content string) ([]core.Release, error) {
	var releases []core.Release
	for _, m := range releasePattern.FindAllStringSubmatch(content, -1) {
		date, err := time.Parse(releaseDateLayout, m[3])
		if err != nil {
			return nil, fmt.Errorf("release %s %s: bad date %q: %w", m[1], m[2], m[3], err)
		}
		releases = append(releases, core.Release{
			Knowledgebase: m[1],
			Name:          m[2],
			Date:          date,
		})
	}
	return releases, nil
}

// ReadReleases parses the release file at path.
func ReadReleases(path string) ([]core.Release, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseReleases(string(content))
}
