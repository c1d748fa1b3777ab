// Package queries reads saved searches from a flat file.
//
// Plain text is the default: one query per line, blank lines and lines
// starting with '#' are skipped. Files ending in .csv/.tsv are read as a
// table with a "url" column, and .yaml/.yml files as a list of queries.
// Entries are not validated; a malformed query fails later, at search time.
package queries

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bakkerme/marketwatch/internal/core"
	"gopkg.in/yaml.v3"
)

const commentMarker = "#"

// ErrNoURLColumn is returned for tabular input without a url header.
var ErrNoURLColumn = errors.New("no url column in header")

// Load reads the queries stored at path, picking a parser by file extension.
func Load(path string) ([]core.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseTable(f, ',')
	case ".tsv":
		return ParseTable(f, '\t')
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return ParseLines(f)
	}
}

// ParseLines reads one query per line.
func ParseLines(r io.Reader) ([]core.Query, error) {
	var out []core.Query
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentMarker) {
			continue
		}
		out = append(out, core.Query{Raw: line, Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return out, nil
}

// ParseTable reads delimited rows and takes queries from the url column.
func ParseTable(r io.Reader, delimiter rune) ([]core.Query, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), "url") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, ErrNoURLColumn
	}

	var out []core.Query
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if col >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[col])
		if value == "" {
			continue
		}
		line, _ := reader.FieldPos(col)
		out = append(out, core.Query{Raw: value, Line: line})
	}
	return out, nil
}

type yamlQuery struct {
	Query string `yaml:"query"`
	URL   string `yaml:"url"`
	Rule  string `yaml:"rule"`
}

// UnmarshalYAML accepts either a bare string or a mapping.
func (q *yamlQuery) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		q.Query = node.Value
		return nil
	}
	type plain yamlQuery
	return node.Decode((*plain)(q))
}

type yamlDocument struct {
	Queries []yamlQuery `yaml:"queries"`
}

// ParseYAML reads either a top-level list or a document with a queries key.
func ParseYAML(r io.Reader) ([]core.Query, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse queries yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var entries []yamlQuery
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		if err := root.Content[0].Decode(&entries); err != nil {
			return nil, fmt.Errorf("parse queries yaml: %w", err)
		}
	default:
		var doc yamlDocument
		if err := root.Content[0].Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse queries yaml: %w", err)
		}
		entries = doc.Queries
	}

	out := make([]core.Query, 0, len(entries))
	for i, e := range entries {
		raw := strings.TrimSpace(e.Query)
		if raw == "" {
			raw = strings.TrimSpace(e.URL)
		}
		if raw == "" || strings.HasPrefix(raw, commentMarker) {
			continue
		}
		out = append(out, core.Query{Raw: raw, Line: i + 1, Rule: strings.TrimSpace(e.Rule)})
	}
	return out, nil
}
