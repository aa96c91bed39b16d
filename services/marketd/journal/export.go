package journal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	ID         int64  `parquet:"name=id, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ListingID  string `parquet:"name=listing_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetID    string `parquet:"name=asset_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Published  bool   `parquet:"name=published, type=BOOLEAN"`
}

// ExportParquet writes every event matching q to a Snappy-compressed parquet
// file at path, paging through the journal. It returns the number of rows.
func (j *Journal) ExportParquet(ctx context.Context, path string, q Query) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("journal: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("journal: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	page := q
	page.Limit = maxListLimit
	for {
		rows, err := j.List(ctx, page)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, err
		}
		for _, row := range rows {
			pr := &parquetRow{
				ID:         int64(row.ID),
				Type:       row.Type,
				ListingID:  row.ListingID,
				AssetID:    row.AssetID,
				Attributes: row.Attributes,
				CreatedAt:  row.CreatedAt.UTC().Format(time.RFC3339),
				Published:  row.Published,
			}
			if err := pw.Write(pr); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("journal: parquet write: %w", err)
			}
			written++
			if q.Limit > 0 && written >= q.Limit {
				break
			}
		}
		if len(rows) < page.Limit || (q.Limit > 0 && written >= q.Limit) {
			break
		}
		page.AfterID = rows[len(rows)-1].ID
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("journal: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("journal: close parquet file: %w", err)
	}
	return written, nil
}
