package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// rowBatch is how many rows are decoded per ReadRows call.
const rowBatch = 64

var cellEscaper = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// extractParquet renders the file footer followed by a header line and a
// sample of tab-separated rows.
func extractParquet(body io.Reader, comp Compression, lim Limits) (text string, err error) {
	r, done, err := decompress(body, comp)
	if err != nil {
		return "", err
	}
	defer done()

	// The footer sits at the end of the file, so the whole object is needed.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", &ParseError{Family: Columnar, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	text, perr := parquetText(data, lim)
	if perr != nil {
		return "", &ParseError{Family: Columnar, Err: perr}
	}
	return TrimToBytes(text, lim.Bytes), nil
}

func parquetText(data []byte, lim Limits) (string, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	md := f.Metadata()
	schema := f.Schema()

	columns := schema.Columns()
	names := make([]string, len(columns))
	for i, path := range columns {
		names[i] = strings.Join(path, ".")
	}

	fmt.Fprintf(&sb, "created_by: %s\n", md.CreatedBy)
	fmt.Fprintf(&sb, "format_version: %d\n", md.Version)
	fmt.Fprintf(&sb, "num_rows: %d\n", f.NumRows())
	fmt.Fprintf(&sb, "num_row_groups: %d\n", len(f.RowGroups()))
	fmt.Fprintf(&sb, "num_columns: %d\n", len(names))
	for _, kv := range md.KeyValueMetadata {
		fmt.Fprintf(&sb, "%s: %s\n", kv.Key, kv.Value)
	}
	sb.WriteString(schema.String())
	sb.WriteString("\n\n")
	sb.WriteString(strings.Join(names, "\t"))

	remaining := lim.SampleRows
	buf := make([]parquet.Row, rowBatch)
	for _, rg := range f.RowGroups() {
		if remaining <= 0 || sb.Len() > lim.Bytes {
			break
		}
		if err := sampleRows(rg, buf, len(names), &remaining, lim.Bytes, &sb); err != nil {
			return "", err
		}
	}

	return sb.String(), nil
}

func sampleRows(rg parquet.RowGroup, buf []parquet.Row, ncols int, remaining *int, byteLimit int, sb *strings.Builder) error {
	rows := rg.Rows()
	defer rows.Close()

	cells := make([]string, ncols)
	for *remaining > 0 && sb.Len() <= byteLimit {
		n, err := rows.ReadRows(buf[:min(len(buf), *remaining)])
		for _, row := range buf[:n] {
			formatRow(row, cells)
			sb.WriteByte('\n')
			sb.WriteString(strings.Join(cells, "\t"))
		}
		*remaining -= n

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// formatRow writes the values of row into cells by leaf column. Repeated
// values are joined with commas.
func formatRow(row parquet.Row, cells []string) {
	for i := range cells {
		cells[i] = ""
	}
	for _, v := range row {
		c := v.Column()
		if c < 0 || c >= len(cells) || v.IsNull() {
			continue
		}
		s := cellEscaper.Replace(v.String())
		if cells[c] != "" {
			cells[c] += ","
		}
		cells[c] += s
	}
}
