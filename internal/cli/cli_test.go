package cli

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/kbimport/internal/core"
	"github.com/JonMunkholm/kbimport/internal/storage"
)

func writeDump(t *testing.T, dir string, taxids ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<uniprot xmlns=\"http://uniprot.org/uniprot\">\n")
	for i, taxid := range taxids {
		fmt.Fprintf(&b, "<entry dataset=\"Swiss-Prot\" created=\"2000-05-30\" modified=\"2021-06-02\" version=\"1\">\n")
		fmt.Fprintf(&b, "  <accession>Q%05d</accession>\n  <name>Q%05d_TEST</name>\n", i+1, i+1)
		fmt.Fprintf(&b, "  <organism>\n    <dbReference type=\"NCBI Taxonomy\" id=\"%s\"/>\n  </organism>\n</entry>\n", taxid)
	}
	b.WriteString("</uniprot>\n")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(b.String()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "uniprot_sprot.xml.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reldate.txt"),
		[]byte("UniProtKB/Swiss-Prot Release 2024_01 of 24-Jan-2024\n"), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "uniprot.db")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_SQLITE_PATH", dbPath)
	t.Setenv("SOURCE_DATA_DIR", t.TempDir())
	t.Setenv("IMPORT_TAXIDS", "")
	t.Setenv("IMPORT_SKIP_BUDGET", "")
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

func TestImportCommand(t *testing.T) {
	dbPath := sqliteEnv(t)
	dump := writeDump(t, t.TempDir(), "9606", "10090", "9606")

	out, err := execute(t, "import", dump, "--driver", "sqlite", "--taxids", "9606", "--batch-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "inserted:      2")
	assert.Contains(t, out, "filtered out:  1")

	store, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.CountEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rel, err := store.Release(context.Background(), "Swiss-Prot", "2024_01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-24", rel.Date.Format(core.DateLayout))

	runs, err := store.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []int{9606}, runs[0].TaxIDs)
}

func TestImportCommand_FailsOnBadEntryWithoutBudget(t *testing.T) {
	sqliteEnv(t)
	dump := writeDump(t, t.TempDir(), "9606", "not-a-number")

	_, err := execute(t, "import", dump, "--driver", "sqlite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(Code: IMP004)")

	_, err = execute(t, "import", dump, "--driver", "sqlite", "--skip-budget", "1")
	assert.NoError(t, err)
}

func TestImportCommand_InvalidFlags(t *testing.T) {
	sqliteEnv(t)

	_, err := execute(t, "import", "x.xml.gz", "--driver", "sqlite", "--taxids", "human")
	assert.ErrorContains(t, err, "--taxids")

	_, err = execute(t, "import", "x.xml.gz", "--driver", "sqlite", "--batch-size", "-3")
	assert.ErrorContains(t, err, "IMPORT_BATCH_SIZE")

	_, err = execute(t, "import", "x.xml.gz", "--driver", "oracle")
	assert.ErrorContains(t, err, "DB_DRIVER")
}

func TestCountLinesCommand(t *testing.T) {
	dump := writeDump(t, t.TempDir(), "9606")

	out, err := execute(t, "count-lines", dump)
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)

	_, err = execute(t, "count-lines")
	assert.Error(t, err)
}

func TestReleaseCommand(t *testing.T) {
	dir := t.TempDir()
	writeDump(t, dir, "9606")

	out, err := execute(t, "release", filepath.Join(dir, "reldate.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Swiss-Prot 2024_01 2024-01-24\n", out)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = execute(t, "release", empty)
	assert.ErrorContains(t, err, "no releases")
}

func TestProgressReporter_Throttles(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressReporter(&buf, time.Hour)

	p.report(core.ImportProgress{Phase: core.PhaseImporting, LinesRead: 1})
	p.report(core.ImportProgress{Phase: core.PhaseImporting, LinesRead: 2})
	p.report(core.ImportProgress{Phase: core.PhaseComplete, LinesRead: 3, TotalLines: 3})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "100%")
}
