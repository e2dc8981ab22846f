package evaluation

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
)

// Format is the encoding of a batch file.
type Format string

// Supported batch formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", apperrors.InvalidRequestError(fmt.Sprintf("unsupported batch file %q (want .json, .yaml, .yml or .csv)", path))
}

// LoadBatch reads a batch file.
func LoadBatch(path string) (Batch, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Batch{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Batch{}, fmt.Errorf("opening batch file: %w", err)
	}
	defer f.Close()

	return DecodeBatch(f, format)
}

// DecodeBatch decodes a batch. CSV input needs a header naming the index,
// pred and target columns, in any order.
func DecodeBatch(r io.Reader, format Format) (Batch, error) {
	var b Batch
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return Batch{}, apperrors.InvalidRequestError(fmt.Sprintf("invalid JSON batch: %v", err))
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&b); err != nil && !errors.Is(err, io.EOF) {
			return Batch{}, apperrors.InvalidRequestError(fmt.Sprintf("invalid YAML batch: %v", err))
		}
	case FormatCSV:
		return decodeCSV(r)
	default:
		return Batch{}, apperrors.InvalidRequestError(fmt.Sprintf("unknown batch format %q", format))
	}
	return b, nil
}

func decodeCSV(r io.Reader) (Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Batch{}, apperrors.InvalidRequestError(fmt.Sprintf("invalid CSV batch: reading header: %v", err))
	}
	cols, err := csvColumns(header)
	if err != nil {
		return Batch{}, err
	}

	var b Batch
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return b, nil
		}
		if err != nil {
			return Batch{}, apperrors.InvalidRequestError(fmt.Sprintf("invalid CSV batch: %v", err))
		}

		index, err := strconv.ParseInt(rec[cols[0]], 10, 64)
		if err != nil {
			return Batch{}, csvFieldError(line, "index", rec[cols[0]])
		}
		pred, err := strconv.ParseFloat(rec[cols[1]], 64)
		if err != nil {
			return Batch{}, csvFieldError(line, "pred", rec[cols[1]])
		}
		target, err := strconv.Atoi(rec[cols[2]])
		if err != nil {
			return Batch{}, csvFieldError(line, "target", rec[cols[2]])
		}

		b.Indexes = append(b.Indexes, index)
		b.Preds = append(b.Preds, pred)
		b.Target = append(b.Target, target)
	}
}

// csvColumns returns the positions of the index, pred and target columns.
func csvColumns(header []string) ([3]int, error) {
	cols := [3]int{-1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "index", "indexes":
			cols[0] = i
		case "pred", "preds":
			cols[1] = i
		case "target":
			cols[2] = i
		}
	}
	for i, name := range []string{"index", "pred", "target"} {
		if cols[i] < 0 {
			return cols, apperrors.InvalidRequestError(fmt.Sprintf("invalid CSV batch: missing %q column", name))
		}
	}
	return cols, nil
}

func csvFieldError(line int, column, value string) error {
	return apperrors.InvalidRequestError(fmt.Sprintf("invalid CSV batch: line %d: bad %s %q", line, column, value))
}
