// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package importer turns CSV, XLSX and JSON uploads into targets.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Upload limits.
const (
	MaxBytes = 10 << 20
	MaxRows  = 10000
)

// Error is an input problem reported to the uploader verbatim.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrTooLarge        Error = "File too large"
	ErrTooManyRows     Error = "Too many rows (>10000)"
	ErrLegacyXLS       Error = "Legacy .xls files are not supported; save as .xlsx"
	ErrUnsupportedType Error = "Unsupported file type"
	ErrInvalidCSV      Error = "Invalid CSV file"
	ErrInvalidXLSX     Error = "Invalid XLSX file"
)

// Row is one raw input record keyed by lowercased column name.
type Row map[string]string

// ParseFile dispatches on the file extension.
func ParseFile(name string, r io.Reader) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return ParseCSV(r)
	case ".xlsx":
		return ParseXLSX(r)
	case ".xls":
		return nil, ErrLegacyXLS
	default:
		return nil, ErrUnsupportedType
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// decodeText strips a UTF-8 BOM and falls back to Windows-1252 when the
// input is not valid UTF-8.
func decodeText(data []byte) ([]byte, error) {
	var fallback encoding.Encoding = charmap.Windows1252
	if utf8.Valid(data) {
		fallback = encoding.Nop
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback.NewDecoder()), data)
	return out, err
}

// ParseCSV reads a CSV file with a header row.
func ParseCSV(r io.Reader) ([]Row, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	cr := csv.NewReader(bytes.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	return tableRows(records)
}

// ParseXLSX reads the first sheet of a workbook with a header row.
func ParseXLSX(r io.Reader) ([]Row, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXLSX, err)
	}
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidXLSX, err)
	}
	return tableRows(records)
}

func tableRows(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	body := records[1:]
	rows := make([]Row, 0, len(body))
	for _, rec := range body {
		if blank(rec) {
			continue
		}
		if len(rows) == MaxRows {
			return nil, ErrTooManyRows
		}
		row := make(Row, len(header))
		for i, col := range header {
			if col == "" || i >= len(rec) {
				continue
			}
			row[col] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ParseJSON converts decoded {"targets": [...]} entries into rows.
func ParseJSON(items []map[string]any) ([]Row, error) {
	if len(items) > MaxRows {
		return nil, ErrTooManyRows
	}
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		row := make(Row, len(item))
		for k, v := range item {
			switch x := v.(type) {
			case nil:
			case string:
				row[strings.ToLower(k)] = x
			case bool:
				row[strings.ToLower(k)] = strconv.FormatBool(x)
			case float64:
				row[strings.ToLower(k)] = strconv.FormatFloat(x, 'f', -1, 64)
			case json.Number:
				row[strings.ToLower(k)] = x.String()
			default:
				row[strings.ToLower(k)] = fmt.Sprint(x)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
