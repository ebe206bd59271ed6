package analytics

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRecord struct {
	Seq          int64  `parquet:"name=seq, type=INT64"`
	EventID      string `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind         string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	LoanID       int64  `parquet:"name=loan_id, type=INT64"`
	Borrower     string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount       string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	InterestRate string `parquet:"name=interest_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	OccurredAt   string `parquet:"name=occurred_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest       string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes records to path as a snappy-compressed parquet file.
// Amounts stay strings so base-unit precision survives the export.
func ExportParquet(path string, records []LoanEventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("analytics: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRecord), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("analytics: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		row := &parquetRecord{
			Seq:          int64(record.ID),
			EventID:      record.EventID,
			Kind:         record.Kind,
			LoanID:       int64(record.LoanID),
			Borrower:     record.Borrower,
			Amount:       record.Amount,
			InterestRate: record.InterestRate,
			OccurredAt:   record.OccurredAt.UTC().Format(time.RFC3339Nano),
			Digest:       record.Digest,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("analytics: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("analytics: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("analytics: close parquet file: %w", err)
	}
	return nil
}
