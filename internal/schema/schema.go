// Package schema loads per-dataset column definitions from the schema
// registry directory.
//
// A dataset named "indiv" is described by indiv.yaml (or indiv.yml):
//
//	version: "2024"
//	columns:
//	  - name: CMTE_ID
//	    position: 1
//
// or by indiv.csv, a CSV file with an "attribute" column listing the output
// column names in order and an optional "position" column.
package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound reports that no definition exists for a dataset.
var ErrNotFound = errors.New("schema not found")

// Column is one output column.
type Column struct {
	Name     string `yaml:"name"`
	Position int    `yaml:"position"`
}

// Schema is the ordered column list of a dataset.
type Schema struct {
	Dataset string
	Version string
	Source  string
	Columns []Column
}

// Header returns the column names ordered by position.
func (s Schema) Header() []string {
	header := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		header[i] = col.Name
	}
	return header
}

// Width is the number of columns.
func (s Schema) Width() int {
	return len(s.Columns)
}

// SourceWidth is the number of fields a well-formed source row carries: the
// highest position. Positions may be sparse, in which case unnamed source
// fields are skipped.
func (s Schema) SourceWidth() int {
	if len(s.Columns) == 0 {
		return 0
	}
	return s.Columns[len(s.Columns)-1].Position
}

// Registry resolves dataset names to schema files under a directory.
type Registry struct {
	dir string
}

// NewRegistry returns a registry reading from dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the registry directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Datasets lists the dataset names with a schema file, sorted.
func (r *Registry) Datasets() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	seen := make(map[string]struct{})
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ext := filepath.Ext(entry.Name())
		switch ext {
		case ".yaml", ".yml", ".csv":
		default:
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load reads the definition for dataset. YAML takes precedence over CSV.
func (r *Registry) Load(dataset string) (Schema, error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" || strings.ContainsAny(dataset, `/\`) || dataset == "." || dataset == ".." {
		return Schema{}, fmt.Errorf("invalid dataset name %q", dataset)
	}
	candidates := []struct {
		ext   string
		parse func(io.Reader) (Schema, error)
	}{
		{".yaml", ParseYAML},
		{".yml", ParseYAML},
		{".csv", ParseCSV},
	}
	for _, candidate := range candidates {
		path := filepath.Join(r.dir, dataset+candidate.ext)
		file, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Schema{}, fmt.Errorf("open schema %s: %w", path, err)
		}
		parsed, err := candidate.parse(file)
		_ = file.Close()
		if err != nil {
			return Schema{}, fmt.Errorf("parse schema %s: %w", path, err)
		}
		parsed.Dataset = dataset
		parsed.Source = path
		return parsed, nil
	}
	return Schema{}, fmt.Errorf("%w: %s in %s", ErrNotFound, dataset, r.dir)
}

type yamlDocument struct {
	Version string   `yaml:"version"`
	Columns []Column `yaml:"columns"`
}

// ParseYAML reads a {version, columns} document.
func ParseYAML(r io.Reader) (Schema, error) {
	var doc yamlDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Schema{}, errors.New("empty schema document")
		}
		return Schema{}, err
	}
	for i := range doc.Columns {
		if doc.Columns[i].Position == 0 {
			doc.Columns[i].Position = i + 1
		}
	}
	return finalize(Schema{Version: doc.Version, Columns: doc.Columns})
}

// ParseCSV reads a CSV with an "attribute" column and an optional
// "position" column. Without positions, row order is column order.
func ParseCSV(r io.Reader) (Schema, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Schema{}, errors.New("empty schema file")
	}
	if err != nil {
		return Schema{}, err
	}
	attrIdx, posIdx := -1, -1
	for i, field := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(field, "\ufeff"))) {
		case "attribute":
			attrIdx = i
		case "position":
			posIdx = i
		}
	}
	if attrIdx < 0 {
		return Schema{}, errors.New(`missing "attribute" column`)
	}

	var columns []Column
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Schema{}, err
		}
		if attrIdx >= len(record) {
			return Schema{}, fmt.Errorf("line %d: missing attribute", line)
		}
		col := Column{Name: record[attrIdx], Position: len(columns) + 1}
		if posIdx >= 0 && posIdx < len(record) && strings.TrimSpace(record[posIdx]) != "" {
			pos, err := strconv.Atoi(strings.TrimSpace(record[posIdx]))
			if err != nil {
				return Schema{}, fmt.Errorf("line %d: invalid position %q", line, record[posIdx])
			}
			col.Position = pos
		}
		columns = append(columns, col)
	}
	return finalize(Schema{Columns: columns})
}

func finalize(s Schema) (Schema, error) {
	if len(s.Columns) == 0 {
		return Schema{}, errors.New("schema defines no columns")
	}
	names := make(map[string]struct{}, len(s.Columns))
	positions := make(map[int]struct{}, len(s.Columns))
	for i := range s.Columns {
		col := &s.Columns[i]
		col.Name = strings.TrimSpace(col.Name)
		if col.Name == "" {
			return Schema{}, fmt.Errorf("column %d has no name", i+1)
		}
		if col.Position < 1 {
			return Schema{}, fmt.Errorf("column %s: position must be positive", col.Name)
		}
		if _, dup := names[col.Name]; dup {
			return Schema{}, fmt.Errorf("duplicate column %s", col.Name)
		}
		if _, dup := positions[col.Position]; dup {
			return Schema{}, fmt.Errorf("duplicate position %d", col.Position)
		}
		names[col.Name] = struct{}{}
		positions[col.Position] = struct{}{}
	}
	sort.SliceStable(s.Columns, func(i, j int) bool {
		return s.Columns[i].Position < s.Columns[j].Position
	})
	return s, nil
}
