package datastore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/your-org/dqn-trader/pkg/logger"
)

// DefaultCloseIndex is used when the header has no column named like the
// requested close column; it matches the open, high, low, close layout.
const DefaultCloseIndex = 3

// FeatureSet is a table of numeric rows. Each row is one environment state.
type FeatureSet struct {
	Columns    []string
	Rows       [][]float64
	CloseIndex int
}

// Dim returns the number of features per row.
func (f *FeatureSet) Dim() int { return len(f.Columns) }

// LoadFeatureCSV reads a headered CSV of numeric features.
// Rows with a non-numeric or non-finite cell are skipped with a warning.
func LoadFeatureCSV(filePath, closeColumn string) (*FeatureSet, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer file.Close()

	fs, err := ReadFeatures(file, closeColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	logger.Infof("Loaded %d feature rows with %d columns from %s", len(fs.Rows), fs.Dim(), filePath)
	return fs, nil
}

// ReadFeatures parses CSV features from r. See LoadFeatureCSV.
func ReadFeatures(r io.Reader, closeColumn string) (*FeatureSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv file is empty")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	fs := &FeatureSet{Columns: header, CloseIndex: closeIndex(header, closeColumn)}
	if fs.CloseIndex >= len(header) {
		return nil, fmt.Errorf("no %q column and only %d columns for the fallback index %d", closeColumn, len(header), DefaultCloseIndex)
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record on line %d: %w", line, err)
		}

		row, err := parseRow(record)
		if err != nil {
			logger.Warnf("Skipping line %d: %v", line, err)
			continue
		}
		fs.Rows = append(fs.Rows, row)
	}
	return fs, nil
}

func closeIndex(header []string, name string) int {
	if name == "" {
		name = "close"
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return DefaultCloseIndex
}

func parseRow(record []string) ([]float64, error) {
	row := make([]float64, len(record))
	for i, cell := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("column %d is not finite", i)
		}
		row[i] = v
	}
	return row, nil
}
