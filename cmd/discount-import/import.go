package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lois2311/pyro-backend/internal/domain/discount"
)

const (
	bloomFPR     = 0.001
	minBloomSize = 1024
	copyBatch    = 10_000
)

// Export columns, in order. Trailing optional columns may be omitted.
var header = []string{"code", "name", "type", "value", "min_order_total", "max_uses", "start_date", "end_date"}

type discountStore interface {
	Codes(ctx context.Context) ([]string, error)
	CopyNew(ctx context.Context, ds []discount.Discount) (int64, error)
	InsertIfAbsent(ctx context.Context, d *discount.Discount) (bool, error)
}

type importStats struct {
	copied   int64
	inserted int
	skipped  int
}

// parseFiles reads every file concurrently and returns the valid rows. When a
// code repeats, the row from the earliest file wins.
func parseFiles(ctx context.Context, files []string) ([]discount.Discount, error) {
	results := make([][]discount.Discount, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			ds, err := parseFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			results[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []discount.Discount
	for _, ds := range results {
		for _, d := range ds {
			if _, dup := seen[d.Code]; dup {
				continue
			}
			seen[d.Code] = struct{}{}
			out = append(out, d)
		}
	}
	return out, nil
}

func parseFile(ctx context.Context, path string) ([]discount.Discount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return parseCSV(ctx, gz, path)
}

func parseCSV(ctx context.Context, r io.Reader, source string) ([]discount.Discount, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	now := time.Now().UTC()
	var (
		out     []discount.Discount
		line    int
		invalid int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read record")
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), header[0]) {
			continue
		}

		d, err := parseRecord(record)
		if err == nil {
			err = d.Validate()
		}
		if err != nil {
			invalid++
			slog.Warn("skipping invalid row",
				slog.String("file", source),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.ID = uuid.NewString()
		d.Active = true
		d.CreatedAt = now
		d.UpdatedAt = now
		out = append(out, *d)
	}

	slog.Info("file parsed",
		slog.String("file", source),
		slog.Int("valid", len(out)),
		slog.Int("invalid", invalid),
	)
	return out, nil
}

func parseRecord(record []string) (*discount.Discount, error) {
	if len(record) < 4 {
		return nil, errors.Errorf("expected at least 4 columns, got %d", len(record))
	}
	col := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	d := &discount.Discount{
		Code: col(0),
		Name: col(1),
		Kind: discount.Kind(col(2)),
	}

	var err error
	if d.Value, err = decimal.NewFromString(col(3)); err != nil {
		return nil, errors.Wrap(err, "value")
	}
	d.Value = d.Value.Round(2)
	if v := col(4); v != "" {
		if d.MinOrderTotal, err = decimal.NewFromString(v); err != nil {
			return nil, errors.Wrap(err, "min_order_total")
		}
		d.MinOrderTotal = d.MinOrderTotal.Round(2)
	}
	if v := col(5); v != "" {
		if d.MaxUses, err = strconv.Atoi(v); err != nil {
			return nil, errors.Wrap(err, "max_uses")
		}
	}
	if d.StartDate, err = parseDate(col(6)); err != nil {
		return nil, errors.Wrap(err, "start_date")
	}
	if d.EndDate, err = parseDate(col(7)); err != nil {
		return nil, errors.Wrap(err, "end_date")
	}
	return d, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}

// importDiscounts writes ds without touching existing codes. Codes the bloom
// filter has never seen are bulk-copied; possible matches go through a
// conflict-ignoring insert.
func importDiscounts(ctx context.Context, store discountStore, ds []discount.Discount) (importStats, error) {
	var stats importStats

	existing, err := store.Codes(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "load existing codes")
	}
	filter := bloom.NewWithEstimates(uint(max(len(existing), minBloomSize)), bloomFPR)
	for _, code := range existing {
		filter.AddString(code)
	}
	slog.Info("existing codes loaded", slog.Int("count", len(existing)))

	var fresh, maybe []discount.Discount
	for _, d := range ds {
		if filter.TestString(d.Code) {
			maybe = append(maybe, d)
		} else {
			fresh = append(fresh, d)
		}
	}

	for start := 0; start < len(fresh); start += copyBatch {
		end := min(start+copyBatch, len(fresh))
		n, err := store.CopyNew(ctx, fresh[start:end])
		if err != nil {
			return stats, errors.Wrapf(err, "copy batch at %d", start)
		}
		stats.copied += n
		slog.Info("copy progress", slog.Int64("copied", stats.copied), slog.Int("total", len(fresh)))
	}

	for i := range maybe {
		ok, err := store.InsertIfAbsent(ctx, &maybe[i])
		if err != nil {
			return stats, errors.Wrapf(err, "insert %s", maybe[i].Code)
		}
		if ok {
			stats.inserted++
		} else {
			stats.skipped++
		}
	}
	return stats, nil
}
