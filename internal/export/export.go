// Package export writes bar and analytics series as CSV for offline use.
// The core only exposes read accessors; all formatting lives here.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pairslab/pairscope/internal/analytics"
	"github.com/pairslab/pairscope/internal/bar"
)

// WriteBars writes bars as CSV with a header row.
func WriteBars(w io.Writer, bars []bar.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"instrument", "interval", "open_time", "open", "high", "low", "close", "volume", "tick_count"}); err != nil {
		return fmt.Errorf("failed to write bar header: %w", err)
	}
	for _, b := range bars {
		row := []string{
			b.Instrument,
			b.Interval,
			b.OpenTime.UTC().Format(time.RFC3339Nano),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
			strconv.Itoa(b.TickCount),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write bar row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSnapshots writes analytics snapshots as CSV. Fields in a sentinel
// state are left empty rather than rendered as numbers.
func WriteSnapshots(w io.Writer, snaps []analytics.Snapshot) error {
	cw := csv.NewWriter(w)
	header := []string{"as_of", "sample_count", "hedge_ratio", "intercept", "spread", "z_score", "correlation", "adf_statistic", "adf_p_value"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	for _, s := range snaps {
		row := []string{
			s.AsOf.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(s.SampleCount),
			"", "", "", "", "", "", "",
		}
		if s.Ready() {
			row[2] = formatFloat(s.HedgeRatio)
			row[3] = formatFloat(s.Intercept)
			row[4] = formatFloat(s.Spread)
			if !s.UndefinedZScore {
				row[5] = formatFloat(s.ZScore)
			}
			row[6] = formatFloat(s.Correlation)
			if !s.ADFUnavailable {
				row[7] = formatFloat(s.ADFStatistic)
				row[8] = formatFloat(s.ADFPValue)
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write snapshot row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// BarsToFile writes bars to a CSV file, creating or truncating it.
func BarsToFile(path string, bars []bar.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return WriteBars(f, bars)
}

// SnapshotsToFile writes snapshots to a CSV file, creating or truncating it.
func SnapshotsToFile(path string, snaps []analytics.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return WriteSnapshots(f, snaps)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
