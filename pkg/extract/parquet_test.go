package extract

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRow struct {
	Name  string `parquet:"name"`
	Count int64  `parquet:"count"`
}

func writeParquet(t *testing.T, rows []sampleRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[sampleRow](&buf)
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractParquet(t *testing.T) {
	data := writeParquet(t, []sampleRow{
		{Name: "alice", Count: 3},
		{Name: "bob", Count: 7},
		{Name: "carol", Count: 11},
	})

	t.Run("summary and rows", func(t *testing.T) {
		text, err := extractParquet(bytes.NewReader(data), None, Limits{Bytes: 10_000, SampleRows: 10})
		require.NoError(t, err)

		assert.Contains(t, text, "num_rows: 3")
		assert.Contains(t, text, "num_columns: 2")
		assert.Contains(t, text, "name")
		assert.Contains(t, text, "count")
		assert.Contains(t, text, "alice")
		assert.Contains(t, text, "carol")
		assert.Contains(t, text, "11")
	})

	t.Run("sample limit", func(t *testing.T) {
		text, err := extractParquet(bytes.NewReader(data), None, Limits{Bytes: 10_000, SampleRows: 1})
		require.NoError(t, err)
		assert.Contains(t, text, "alice")
		assert.NotContains(t, text, "bob")
	})

	t.Run("gzip", func(t *testing.T) {
		text, err := extractParquet(bytes.NewReader(gzipped(t, string(data))), Gzip, Limits{Bytes: 10_000, SampleRows: 10})
		require.NoError(t, err)
		assert.Contains(t, text, "bob")
	})

	t.Run("byte limit", func(t *testing.T) {
		rows := make([]sampleRow, 500)
		for i := range rows {
			rows[i] = sampleRow{Name: fmt.Sprintf("row-%d", i), Count: int64(i)}
		}
		big := writeParquet(t, rows)

		text, err := extractParquet(bytes.NewReader(big), None, Limits{Bytes: 300, SampleRows: 500})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(text), 300)
		assert.True(t, strings.HasPrefix(text, "created_by:"))
	})

	t.Run("corrupt file", func(t *testing.T) {
		text, err := extractParquet(strings.NewReader("PAR1 this is not really parquet PAR1"), None, Limits{Bytes: 1000, SampleRows: 10})
		assert.Empty(t, text)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, Columnar, perr.Family)
	})
}

func TestFormatRow(t *testing.T) {
	cells := make([]string, 2)
	row := parquet.Row{
		parquet.ValueOf("a\tb").Level(0, 0, 0),
		parquet.ValueOf(nil).Level(0, 0, 1),
	}

	formatRow(row, cells)
	assert.Equal(t, []string{"a b", ""}, cells)
}
