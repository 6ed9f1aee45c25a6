package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	importBatch   = 5_000
)

// legacyTables are the exports the importer expects, one <table>.csv.gz each.
var legacyTables = []string{"spin_history", "spin_wheel_history", "spin_codes"}

// source is an export of one legacy table.
type source struct {
	table string
	path  string
}

// codeImporter is implemented by postgres.LegacyImporter.
type codeImporter interface {
	ImportCodes(ctx context.Context, codes []reward.Code) (int64, error)
}

func main() {
	var (
		dataDir       string
		databaseURL   string
		bloomCapacity uint
		dryRun        bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing <table>.csv.gz exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&bloomCapacity, "bloom-capacity", 10_000_000, "expected codes per export")
	flag.BoolVar(&dryRun, "dry-run", false, "report duplicates without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, bloomCapacity, dryRun); err != nil {
		slog.Error("legacy import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("legacy import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, capacity uint, dryRun bool) error {
	sources := make([]source, 0, len(legacyTables))
	for _, table := range legacyTables {
		path := filepath.Join(dataDir, table+".csv.gz")
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				slog.Warn("export missing, skipping", slog.String("table", table))
				continue
			}
			return errors.Wrapf(err, "check file %s", path)
		}
		sources = append(sources, source{table: table, path: path})
	}
	if len(sources) == 0 {
		return errors.Errorf("no exports found in %s", dataDir)
	}

	slog.Info("finding codes present in more than one table", slog.Int("files", len(sources)))
	dups, err := findDuplicates(ctx, sources, capacity)
	if err != nil {
		return errors.Wrap(err, "find duplicates")
	}
	reportDuplicates(dups, sources)

	if dryRun {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	importer := postgres.NewLegacyImporter(pool)
	for _, src := range sources {
		stats, err := importSource(ctx, src, dups, importer)
		if err != nil {
			return errors.Wrapf(err, "import %s", src.table)
		}
		slog.Info("table imported",
			slog.String("table", src.table),
			slog.Int("rows", stats.rows),
			slog.Int64("inserted", stats.inserted),
			slog.Int("duplicates", stats.duplicates),
			slog.Int("malformed", stats.malformed),
		)
	}
	return nil
}

// findDuplicates returns codes present in two or more sources, mapped to the
// bitmask of sources they appear in. A bloom filter per source narrows the
// candidates; exact membership is confirmed by the bitmasks.
func findDuplicates(ctx context.Context, sources []source, capacity uint) (map[string]uint, error) {
	filters := make([]*bloom.BloomFilter, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var n int
			err := streamCodes(gctx, src.path, func(code string) {
				filter.AddString(code)
				n++
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", src.table)
			}
			slog.Info("filter built", slog.String("table", src.table), slog.Int("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]map[string]uint, len(sources))
	g, gctx = errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			found := make(map[string]uint)
			err := streamCodes(gctx, src.path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= 1 << uint(i)
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", src.table)
			}
			candidates[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, found := range candidates {
		for code, mask := range found {
			merged[code] |= mask
		}
	}
	for code, mask := range merged {
		if bits.OnesCount(mask) < 2 {
			delete(merged, code)
		}
	}
	return merged, nil
}

func reportDuplicates(dups map[string]uint, sources []source) {
	if len(dups) == 0 {
		slog.Info("no duplicate codes across tables")
		return
	}
	codes := make([]string, 0, len(dups))
	for code := range dups {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	slog.Warn("codes found in several tables are skipped", slog.Int("count", len(codes)))
	for _, code := range codes {
		var tables []string
		for i, src := range sources {
			if dups[code]&(1<<uint(i)) != 0 {
				tables = append(tables, src.table)
			}
		}
		slog.Warn("duplicate code", slog.String("code", code), slog.Any("tables", tables))
	}
}

type importStats struct {
	rows       int
	inserted   int64
	duplicates int
	malformed  int
}

func importSource(ctx context.Context, src source, dups map[string]uint, importer codeImporter) (importStats, error) {
	var (
		stats importStats
		batch = make([]reward.Code, 0, importBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := importer.ImportCodes(ctx, batch)
		if err != nil {
			return err
		}
		stats.inserted += n
		batch = batch[:0]
		return nil
	}

	err := streamRows(ctx, src.path, func(row map[string]string) error {
		stats.rows++
		if stats.rows%progressEvery == 0 {
			slog.Info("import progress", slog.String("table", src.table), slog.Int("rows", stats.rows))
		}

		c, err := parseRow(row, src.table)
		if err != nil {
			stats.malformed++
			slog.Debug("malformed row", slog.String("table", src.table), slog.Int("row", stats.rows), slog.String("error", err.Error()))
			return nil
		}
		if _, dup := dups[c.Code]; dup {
			stats.duplicates++
			return nil
		}

		batch = append(batch, c)
		if len(batch) == importBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

// parseRow converts one export row. Amounts may carry a currency symbol and
// timestamps may be RFC 3339 or Postgres text output.
func parseRow(row map[string]string, table string) (reward.Code, error) {
	c := reward.Code{
		Code:   reward.NormalizeCode(row["code"]),
		Source: "legacy:" + table,
	}
	if c.Code == "" {
		return c, errors.New("empty code")
	}

	var err error
	if c.UserID, err = strconv.ParseInt(strings.TrimSpace(row["user_id"]), 10, 64); err != nil || c.UserID <= 0 {
		return c, errors.Errorf("bad user_id %q", row["user_id"])
	}
	if raw := strings.TrimSpace(row["business_id"]); raw != "" && !strings.EqualFold(raw, "null") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return c, errors.Errorf("bad business_id %q", raw)
		}
		c.BusinessID = &id
	}

	amount := row["discount_amount"]
	if amount == "" {
		amount = row["amount"]
	}
	if c.Amount, err = decimal.NewFromString(strings.TrimLeft(strings.TrimSpace(amount), "₹$")); err != nil {
		return c, errors.Errorf("bad amount %q", amount)
	}
	if err := reward.CheckAmount(c.Amount); err != nil {
		return c, errors.Wrapf(err, "amount %q", amount)
	}

	if c.CreatedAt, err = parseTime(row["created_at"]); err != nil {
		return c, errors.Wrap(err, "created_at")
	}
	if raw := row["expires_at"]; raw != "" {
		if c.ExpiresAt, err = parseTime(raw); err != nil {
			return c, errors.Wrap(err, "expires_at")
		}
	} else {
		c.ExpiresAt = c.CreatedAt.Add(reward.DefaultCodeTTL)
	}

	switch strings.ToLower(strings.TrimSpace(row["used"])) {
	case "t", "true", "1":
		c.Used = true
	}
	if raw := strings.TrimSpace(row["used_at"]); raw != "" && !strings.EqualFold(raw, "null") {
		usedAt, err := parseTime(raw)
		if err != nil {
			return c, errors.Wrap(err, "used_at")
		}
		c.Used, c.UsedAt = true, &usedAt
	}
	return c, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized time %q", raw)
}

// streamCodes calls fn with the normalized code of every row.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	return streamRows(ctx, path, func(row map[string]string) error {
		if code := reward.NormalizeCode(row["code"]); code != "" {
			fn(code)
		}
		return nil
	})
}

// streamRows opens a gzip-compressed CSV export with a header line and calls
// fn for each row keyed by column name.
func streamRows(ctx context.Context, path string, fn func(row map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return errors.Wrapf(err, "read header of %s", path)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}

	row := make(map[string]string, len(columns))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		clear(row)
		for i, v := range record {
			if i < len(columns) {
				row[columns[i]] = v
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}
