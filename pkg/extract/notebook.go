package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

type notebook struct {
	NBFormat   *int           `json:"nbformat"`
	Cells      []notebookCell `json:"cells"`
	Worksheets []struct {
		Cells []notebookCell `json:"cells"`
	} `json:"worksheets"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
	// Input holds the source of code cells before nbformat 4.
	Input json.RawMessage `json:"input"`
	// Level is set on nbformat 3 heading cells.
	Level int `json:"level"`
}

// extractNotebook concatenates the source of code and markdown cells in
// document order. Outputs, raw cells and cells without a source are
// skipped. Heading cells of nbformat 3 read as markdown headings.
func extractNotebook(body io.Reader, comp Compression, lim Limits) (string, error) {
	r, done, err := decompress(body, comp)
	if err != nil {
		return "", err
	}
	defer done()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	text, err := notebookText(data)
	if err != nil {
		return "", &ParseError{Family: Notebook, Err: err}
	}
	return TrimToBytes(text, lim.Bytes), nil
}

func notebookText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errInvalidUTF8
	}

	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return "", err
	}
	if nb.NBFormat == nil {
		return "", errors.New("missing nbformat")
	}

	cells := nb.Cells
	if *nb.NBFormat < 4 {
		for _, ws := range nb.Worksheets {
			cells = append(cells, ws.Cells...)
		}
	} else if cells == nil {
		return "", errors.New("missing cells")
	}

	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		var raw json.RawMessage
		switch cell.CellType {
		case "markdown", "heading":
			raw = cell.Source
		case "code":
			raw = cell.Source
			if len(raw) == 0 {
				raw = cell.Input
			}
		default:
			continue
		}
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		src, err := cellSource(raw)
		if err != nil {
			return "", fmt.Errorf("cell %d: %w", i, err)
		}
		if cell.CellType == "heading" {
			src = heading(src, cell.Level)
		}
		parts = append(parts, src)
	}

	return strings.Join(parts, "\n"), nil
}

// heading renders an nbformat 3 heading cell the way the version 4
// upgrade does: one markdown line prefixed with level hashes.
func heading(src string, level int) string {
	if level < 1 {
		level = 1
	}
	lines := strings.Split(strings.TrimRight(src, "\n"), "\n")
	return strings.Repeat("#", level) + " " + strings.Join(lines, " ")
}

// cellSource accepts both a single string and the list of lines form.
func cellSource(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("unexpected source: %w", err)
	}
	return strings.Join(lines, ""), nil
}
