package analytics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func TestExportParquetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	for _, amount := range []string{"1000", "1500"} {
		_, _, err := store.Append(ctx, testPayload(t, "loan.created", amount))
		require.NoError(t, err)
	}
	records, err := store.List(ctx, "", 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "loans.parquet")
	require.NoError(t, ExportParquet(path, records))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]parquetRecord, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "1000", rows[0].Amount)
	require.Equal(t, records[1].Digest, rows[1].Digest)
}
