// Package notebook parses notebook documents and executes their code cells
// inside an injected sandbox. One fresh sandbox session is used per run so
// no interpreter state leaks across notebooks.
package notebook

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Cell is one code cell's source, in document order.
type Cell struct {
	Source string
}

// Document is the ordered list of code cells of a notebook. Markdown and
// raw cells carry no grading signal and are dropped during parsing.
type Document struct {
	Cells []Cell
}

// rawNotebook mirrors the subset of the ipynb v4 schema we consume.
// "source" may be a single string or a list of line fragments.
type rawNotebook struct {
	Cells []rawCell `json:"cells"`
}

type rawCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// ParseDocument decodes an ipynb document into its ordered code cells.
func ParseDocument(data []byte) (*Document, error) {
	var raw rawNotebook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("notebook: parse document: %w", err)
	}
	doc := &Document{}
	for _, c := range raw.Cells {
		if c.CellType != "code" {
			continue
		}
		src, err := decodeSource(c.Source)
		if err != nil {
			return nil, err
		}
		doc.Cells = append(doc.Cells, Cell{Source: src})
	}
	return doc, nil
}

// ReadDocument loads and parses a notebook file.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notebook: read document: %w", err)
	}
	return ParseDocument(data)
}

func decodeSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("notebook: cell source is neither string nor string list")
	}
	return strings.Join(lines, ""), nil
}
