package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/kbimport/internal/config"
	"github.com/JonMunkholm/kbimport/internal/core"
	"github.com/JonMunkholm/kbimport/internal/logging"
	"github.com/JonMunkholm/kbimport/internal/source"
	"github.com/JonMunkholm/kbimport/internal/storage"
)

// importFlags are command-line overrides for the environment configuration.
type importFlags struct {
	taxids        string
	batchSize     int
	skipBudget    int
	queueDepth    int
	forceDownload bool
	noCountLines  bool
	driver        string
	sqlitePath    string
	dataDir       string
}

func newImportCmd() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import [SOURCE]",
		Short: "Import a dump from a URL or local path",
		Long: `Streams the gzip-compressed XML dump at SOURCE (default SOURCE_URL) into the
configured database in batches. Entries are filtered by NCBI taxonomy id when
--taxids is given. Re-importing the same dump is harmless: stored accessions are
counted as duplicates.

Malformed batches and entries without a usable taxonomy id abort the import
unless --skip-budget allows them to be skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			raw := cfg.Source.URL
			if len(args) == 1 {
				raw = args[0]
			}
			return runImport(cmd, cfg, raw)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.taxids, "taxids", "", "comma-separated NCBI taxonomy ids to keep (default IMPORT_TAXIDS, empty keeps all)")
	f.IntVar(&flags.batchSize, "batch-size", 0, "entries per batch (default IMPORT_BATCH_SIZE)")
	f.IntVar(&flags.skipBudget, "skip-budget", 0, "malformed batches or rejected entries to tolerate (default IMPORT_SKIP_BUDGET)")
	f.IntVar(&flags.queueDepth, "queue-depth", 0, "batches buffered between pipeline stages (default IMPORT_QUEUE_DEPTH)")
	f.BoolVar(&flags.forceDownload, "force-download", false, "download again even if the dump is cached")
	f.BoolVar(&flags.noCountLines, "no-count-lines", false, "skip the line-count probe used for progress")
	f.StringVar(&flags.driver, "driver", "", "database driver: postgres or sqlite (default DB_DRIVER)")
	f.StringVar(&flags.sqlitePath, "sqlite-path", "", "SQLite database file (default DB_SQLITE_PATH)")
	f.StringVar(&flags.dataDir, "data-dir", "", "download cache directory (default SOURCE_DATA_DIR)")

	return cmd
}

// loadConfig reads the environment configuration and applies changed flags.
func loadConfig(cmd *cobra.Command, flags *importFlags) (*config.Config, error) {
	var filterErr error
	cfg, err := config.LoadWithOverrides(func(c *config.Config) {
		if flags == nil {
			return
		}
		changed := cmd.Flags().Changed

		if changed("taxids") {
			set, err := core.ParseFilterSet(flags.taxids)
			if err != nil {
				filterErr = err
				return
			}
			c.Import.TaxIDs = set.IDs()
		}
		if changed("batch-size") {
			c.Import.BatchSize = flags.batchSize
		}
		if changed("skip-budget") {
			c.Import.SkipBudget = flags.skipBudget
		}
		if changed("queue-depth") {
			c.Import.QueueDepth = flags.queueDepth
		}
		if flags.forceDownload {
			c.Source.ForceDownload = true
		}
		if flags.noCountLines {
			c.Source.CountLines = false
		}
		if changed("driver") {
			c.Database.Driver = flags.driver
		}
		if changed("sqlite-path") {
			c.Database.SQLitePath = flags.sqlitePath
		}
		if changed("data-dir") {
			c.Source.DataDir = flags.dataDir
		}
	})
	if filterErr != nil {
		return nil, fmt.Errorf("--taxids: %w", filterErr)
	}
	if err != nil {
		return nil, err
	}

	logging.Setup(logLevel(cmd, cfg), logFormat(cmd, cfg))
	slog.Debug("configuration loaded", "config", cfg.String())
	return cfg, nil
}

func logLevel(cmd *cobra.Command, cfg *config.Config) string {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		return "debug"
	}
	return cfg.Logging.Level
}

func logFormat(cmd *cobra.Command, cfg *config.Config) string {
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		return f
	}
	return cfg.Logging.Format
}

func runImport(cmd *cobra.Command, cfg *config.Config, raw string) error {
	ctx := cmd.Context()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	resolver := source.NewResolver(cfg.Source)
	service := core.NewService(store, core.ServiceConfig{
		MaxConcurrent: 1,
		MaxWait:       cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
	})

	req := core.ImportRequest{
		Source:     raw,
		Open:       resolver.Opener(raw, cfg.Source.ForceDownload),
		Filter:     core.NewFilterSet(cfg.Import.TaxIDs...),
		BatchSize:  cfg.Import.BatchSize,
		SkipBudget: cfg.Import.SkipBudget,
		QueueDepth: cfg.Import.QueueDepth,
	}

	reporter := newProgressReporter(cmd.ErrOrStderr(), 2*time.Second)
	result, err := service.RunImport(ctx, req, reporter.report)
	if result != nil {
		printSummary(cmd.OutOrStdout(), result)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}
	return nil
}

// progressReporter prints at most one progress line per interval, plus
// every phase change.
type progressReporter struct {
	w        io.Writer
	interval time.Duration

	mu    sync.Mutex
	last  time.Time
	phase core.ImportPhase
}

func newProgressReporter(w io.Writer, interval time.Duration) *progressReporter {
	return &progressReporter{w: w, interval: interval}
}

func (p *progressReporter) report(prog core.ImportProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if prog.Phase == p.phase && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	p.phase = prog.Phase

	if prog.Indeterminate() {
		fmt.Fprintf(p.w, "%-10s lines=%d records=%d inserted=%d\n",
			prog.Phase, prog.LinesRead, prog.Records, prog.Inserted)
		return
	}
	fmt.Fprintf(p.w, "%-10s %3d%% lines=%d/%d records=%d inserted=%d\n",
		prog.Phase, prog.Percent(), prog.LinesRead, prog.TotalLines, prog.Records, prog.Inserted)
}

func printSummary(w io.Writer, r *core.ImportResult) {
	st := r.Stats
	fmt.Fprintf(w, "import %s\n", r.ImportID)
	fmt.Fprintf(w, "  source:        %s\n", r.Source)
	if len(r.TaxIDs) > 0 {
		fmt.Fprintf(w, "  taxids:        %v\n", r.TaxIDs)
	}
	fmt.Fprintf(w, "  batches:       %d (%d skipped)\n", st.Batches, st.BatchesSkipped)
	fmt.Fprintf(w, "  records:       %d\n", st.Records)
	fmt.Fprintf(w, "  accepted:      %d\n", st.Accepted)
	fmt.Fprintf(w, "  filtered out:  %d\n", st.FilteredOut)
	fmt.Fprintf(w, "  rejected:      %d\n", st.Rejected)
	fmt.Fprintf(w, "  inserted:      %d\n", st.Inserted)
	fmt.Fprintf(w, "  duplicates:    %d\n", st.Duplicates)
	if st.SinkRejected > 0 {
		fmt.Fprintf(w, "  store refused: %d\n", st.SinkRejected)
	}
	fmt.Fprintf(w, "  duration:      %s\n", st.Duration.Round(time.Millisecond))
	if r.FirstError != "" {
		fmt.Fprintf(w, "  first error:   %s\n", r.FirstError)
	}
}
