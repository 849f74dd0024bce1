package fetch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"fecingest/internal/config"
	"fecingest/internal/schema"
)

// MapStats counts what the schema mapping did.
type MapStats struct {
	Rows      int
	Malformed int
	Dropped   int
}

// MapToSchema reads pipe-delimited rows from src and writes a CSV with the
// schema header to dst. Column values are taken from the field at their
// 1-based position, and every value is kept as text. Rows whose width differs
// from the schema's source width are malformed: "pass" pads or truncates them,
// "drop" skips them.
func MapToSchema(src, dst string, sch schema.Schema, malformedRows string) (MapStats, error) {
	if malformedRows != config.MalformedRowsPass && malformedRows != config.MalformedRowsDrop {
		return MapStats{}, fmt.Errorf("unsupported malformed_rows policy %q", malformedRows)
	}
	if sch.Width() == 0 {
		return MapStats{}, errors.New("schema defines no columns")
	}
	in, err := os.Open(src)
	if err != nil {
		return MapStats{}, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return MapStats{}, err
	}
	stats, err := mapRows(in, out, sch, malformedRows)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return stats, err
	}
	return stats, nil
}

func mapRows(r io.Reader, w io.Writer, sch schema.Schema, malformedRows string) (MapStats, error) {
	reader := csv.NewReader(r)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	writer := csv.NewWriter(w)
	writer.UseCRLF = false
	if err := writer.Write(sch.Header()); err != nil {
		return MapStats{}, err
	}

	width := sch.SourceWidth()
	row := make([]string, sch.Width())
	var stats MapStats
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && record == nil {
				stats.Malformed++
				stats.Dropped++
				continue
			}
			return stats, fmt.Errorf("read rows: %w", err)
		}
		if len(record) != width {
			stats.Malformed++
			if malformedRows == config.MalformedRowsDrop {
				stats.Dropped++
				continue
			}
		}
		for i, col := range sch.Columns {
			if field := col.Position - 1; field < len(record) {
				row[i] = record[field]
			} else {
				row[i] = ""
			}
		}
		if err := writer.Write(row); err != nil {
			return stats, err
		}
		stats.Rows++
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return stats, err
	}
	return stats, nil
}
