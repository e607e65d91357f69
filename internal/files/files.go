/*
Copyright 2024 The remote-receipt-import Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package files parses uploaded payment files (CSV or JSON) into payment
// rows. Headers are matched against known aliases in English and Spanish with
// a small Levenshtein tolerance, since the exports this service ingests come
// from several accounting systems with inconsistent column naming.
package files

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/fabrii9/remote-receipt-import/model"
)

// StoreFunc receives each parsed payment row. Rows are delivered in source
// file order.
type StoreFunc func(ctx context.Context, importID string, row model.PaymentRow) error

// headerDrift is the allowable Levenshtein distance, as a percentage of the
// longer string, when matching a file header against a known alias.
const headerDrift = 25.0

// fieldOrder fixes the priority in which canonical fields claim a header
// column, so mapping is deterministic when a header could match more than one
// field.
var fieldOrder = []string{"tax_id", "date", "amount", "memo"}

var requiredFields = []string{"tax_id", "date", "amount"}

var headerAliases = map[string][]string{
	"tax_id": {"tax_id", "taxid", "cuit", "cuil", "nif"},
	"date":   {"date", "payment_date", "fecha", "fecha de pago"},
	"amount": {"amount", "importe", "monto"},
	"memo":   {"memo", "reference", "concepto", "referencia", "detalle", "operacion"},
}

// dateLayouts are tried in order when parsing a payment date. Source exports
// use day-first slashed dates, ISO dates, or full timestamps.
var dateLayouts = []string{"02/01/2006", "2006-01-02", time.RFC3339}

// ImportPaymentFile stages the upload in a temp file, detects whether it is
// CSV or JSON, parses it and hands each row to store. It returns the
// generated import ID and the number of rows parsed.
func ImportPaymentFile(ctx context.Context, reader io.Reader, filename string, store StoreFunc) (string, int, error) {
	importID := model.GenerateUUIDWithSuffix("imp")

	tempFile, err := createAndPopulateTempFile(filename, reader)
	if err != nil {
		return "", 0, err
	}
	defer cleanupTempFile(tempFile)

	fileType, err := detectFileTypeFromTempFile(tempFile, filename)
	if err != nil {
		return "", 0, err
	}

	total, err := parseAndStoreRows(ctx, importID, tempFile, fileType, store)
	if err != nil {
		return "", 0, err
	}

	return importID, total, nil
}

// createAndPopulateTempFile copies the upload into a temp file so the content
// can be read twice, once for type detection and once for parsing.
func createAndPopulateTempFile(filename string, reader io.Reader) (*os.File, error) {
	tempFile, err := createTempFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary file")
	}

	if _, err := io.Copy(tempFile, reader); err != nil {
		return nil, errors.Wrap(err, "copying upload data")
	}

	if _, err := tempFile.Seek(0, 0); err != nil {
		return nil, errors.Wrap(err, "rewinding temporary file")
	}

	return tempFile, nil
}

// detectFileTypeFromTempFile sniffs the first 512 bytes and rewinds.
func detectFileTypeFromTempFile(tempFile *os.File, filename string) (string, error) {
	header := make([]byte, 512)
	if _, err := tempFile.Read(header); err != nil && err != io.EOF {
		return "", errors.Wrap(err, "reading file header")
	}

	fileType, err := DetectFileType(header, filename)
	if err != nil {
		return "", errors.Wrap(err, "detecting file type")
	}

	if _, err := tempFile.Seek(0, 0); err != nil {
		return "", errors.Wrap(err, "rewinding temporary file")
	}

	return fileType, nil
}

func parseAndStoreRows(ctx context.Context, importID string, reader io.Reader, fileType string, store StoreFunc) (int, error) {
	switch fileType {
	case "text/csv", "text/csv; charset=utf-8":
		return ProcessCSV(ctx, importID, reader, store)
	case "application/json":
		return ProcessJSON(ctx, importID, reader, store)
	default:
		return 0, fmt.Errorf("unsupported file type: %s", fileType)
	}
}

func createTempFile(originalFilename string) (*os.File, error) {
	tempDir := filepath.Join(os.TempDir(), "rri_uploads")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating temporary upload directory")
	}

	prefix := fmt.Sprintf("%s_", filepath.Base(originalFilename))
	tempFile, err := os.CreateTemp(tempDir, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary file")
	}

	return tempFile, nil
}

func cleanupTempFile(file *os.File) {
	if file != nil {
		filename := file.Name()
		file.Close()
		if err := os.Remove(filename); err != nil {
			log.Printf("Error removing temporary file %s: %v", filename, err)
		}
	}
}

// DetectFileType resolves the MIME type from the filename extension when
// possible, falling back to content inspection.
func DetectFileType(data []byte, filename string) (string, error) {
	if mimeType := DetectByExtension(filename); mimeType != "" {
		return mimeType, nil
	}
	return DetectByContent(data)
}

// DetectByExtension detects the MIME type by the file extension.
func DetectByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return mime.TypeByExtension(ext)
}

// DetectByContent detects the MIME type based on the content of the file.
func DetectByContent(data []byte) (string, error) {
	mimeType := http.DetectContentType(data)

	switch mimeType {
	case "application/octet-stream", "text/plain", "text/plain; charset=utf-8":
		return AnalyzeTextContent(data)
	case "text/csv; charset=utf-8":
		return "text/csv", nil
	default:
		return mimeType, nil
	}
}

// AnalyzeTextContent differentiates text content between CSV and JSON.
func AnalyzeTextContent(data []byte) (string, error) {
	if LooksLikeCSV(data) {
		return "text/csv", nil
	}
	if json.Valid(bytes.TrimRight(data, "\x00")) {
		return "application/json", nil
	}
	return "text/plain", nil
}

// LooksLikeCSV checks whether the provided data looks like a CSV file. It
// requires at least two lines with a consistent field count of two or more.
func LooksLikeCSV(data []byte) bool {
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) < 2 {
		return false
	}

	fields := bytes.Count(lines[0], []byte(",")) + 1
	for _, line := range lines[1:] {
		if len(bytes.TrimRight(line, "\x00")) == 0 {
			continue
		}
		if bytes.Count(line, []byte(","))+1 != fields {
			return false
		}
	}

	return fields > 1
}

// ProcessCSV parses CSV content row by row, delivering each parsed payment
// row to store. The first line must be a header.
func ProcessCSV(ctx context.Context, importID string, reader io.Reader, store StoreFunc) (int, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))

	headers, err := csvReader.Read()
	if err != nil {
		return 0, fmt.Errorf("error reading CSV headers: %w", err)
	}

	columnMap, err := createColumnMap(headers)
	if err != nil {
		return 0, err
	}

	return processCSVRows(ctx, importID, csvReader, columnMap, store)
}

func processCSVRows(ctx context.Context, importID string, csvReader *csv.Reader, columnMap map[string]int, store StoreFunc) (int, error) {
	var errs []error
	rowNum := 0
	stored := 0

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("error reading row %d: %w", rowNum+1, err))
			continue
		}

		rowNum++

		row, err := parsePaymentRow(record, columnMap, rowNum)
		if err != nil {
			errs = append(errs, fmt.Errorf("error parsing row %d: %w", rowNum, err))
			continue
		}

		if err := store(ctx, importID, row); err != nil {
			errs = append(errs, fmt.Errorf("error storing row %d: %w", rowNum, err))
			continue
		}
		stored++

		if rowNum%1000 == 0 {
			select {
			case <-ctx.Done():
				return stored, ctx.Err()
			default:
			}
		}
	}

	if len(errs) > 0 {
		return stored, fmt.Errorf("encountered %d errors while processing CSV: %v", len(errs), errs)
	}

	return stored, nil
}

// createColumnMap resolves file headers to canonical field indices. Every
// required field must claim exactly one column.
func createColumnMap(headers []string) (map[string]int, error) {
	columnMap := make(map[string]int)

	for i, header := range headers {
		normalized := strings.ToLower(strings.TrimSpace(header))
		for _, field := range fieldOrder {
			if _, taken := columnMap[field]; taken {
				continue
			}
			if fieldMatchesHeader(field, normalized) {
				columnMap[field] = i
				break
			}
		}
	}

	for _, field := range requiredFields {
		if _, exists := columnMap[field]; !exists {
			return nil, fmt.Errorf("required column %q not found in file header", field)
		}
	}

	return columnMap, nil
}

func fieldMatchesHeader(field, header string) bool {
	for _, alias := range headerAliases[field] {
		if headerMatches(header, alias) {
			return true
		}
	}
	return false
}

// headerMatches compares a normalized header against an alias, accepting
// containment and small Levenshtein drift so headers like "Importe (ARS)" or
// accented variants still resolve.
func headerMatches(header, alias string) bool {
	if header == alias {
		return true
	}
	if strings.Contains(header, alias) {
		return true
	}

	distance := levenshtein.DistanceForStrings([]rune(header), []rune(alias), levenshtein.DefaultOptions)
	maxLength := float64(max(len(header), len(alias)))
	return distance <= int(maxLength*(headerDrift/100))
}

func parsePaymentRow(record []string, columnMap map[string]int, rowNumber int) (model.PaymentRow, error) {
	taxID, err := getRequiredField(record, columnMap, "tax_id")
	if err != nil {
		return model.PaymentRow{}, err
	}

	dateStr, err := getRequiredField(record, columnMap, "date")
	if err != nil {
		return model.PaymentRow{}, err
	}
	paymentDate, err := parsePaymentDate(dateStr)
	if err != nil {
		return model.PaymentRow{}, err
	}

	amountStr, err := getRequiredField(record, columnMap, "amount")
	if err != nil {
		return model.PaymentRow{}, err
	}
	amount, err := model.ParseAmount(amountStr)
	if err != nil {
		return model.PaymentRow{}, err
	}
	if !amount.IsPositive() {
		return model.PaymentRow{}, fmt.Errorf("amount must be positive, got %s", amount)
	}

	memo := getOptionalField(record, columnMap, "memo")

	return model.PaymentRow{
		RowNumber:    rowNumber,
		PartnerTaxID: taxID,
		PaymentDate:  paymentDate,
		Memo:         memo,
		Amount:       amount,
	}, nil
}

func getRequiredField(record []string, columnMap map[string]int, field string) (string, error) {
	if index, exists := columnMap[field]; exists && index < len(record) {
		value := strings.TrimSpace(record[index])
		if value == "" {
			return "", fmt.Errorf("required field '%s' is empty", field)
		}
		return value, nil
	}
	return "", fmt.Errorf("required field '%s' not found in record", field)
}

func getOptionalField(record []string, columnMap map[string]int, field string) string {
	if index, exists := columnMap[field]; exists && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}

func parsePaymentDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

type jsonPaymentRow struct {
	TaxID  string          `json:"tax_id"`
	Date   string          `json:"date"`
	Memo   string          `json:"memo"`
	Amount decimal.Decimal `json:"amount"`
}

// ProcessJSON parses a JSON array of payment rows, delivering each row to
// store in array order.
func ProcessJSON(ctx context.Context, importID string, reader io.Reader, store StoreFunc) (int, error) {
	decoder := json.NewDecoder(reader)
	var rows []jsonPaymentRow
	if err := decoder.Decode(&rows); err != nil {
		return 0, err
	}

	for i, raw := range rows {
		taxID := strings.TrimSpace(raw.TaxID)
		if taxID == "" {
			return i, fmt.Errorf("row %d: missing tax_id", i+1)
		}
		paymentDate, err := parsePaymentDate(raw.Date)
		if err != nil {
			return i, fmt.Errorf("row %d: %w", i+1, err)
		}
		if !raw.Amount.IsPositive() {
			return i, fmt.Errorf("row %d: amount must be positive, got %s", i+1, raw.Amount)
		}

		row := model.PaymentRow{
			RowNumber:    i + 1,
			PartnerTaxID: taxID,
			PaymentDate:  paymentDate,
			Memo:         strings.TrimSpace(raw.Memo),
			Amount:       raw.Amount,
		}
		if err := store(ctx, importID, row); err != nil {
			return i, err
		}

		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}
	}

	return len(rows), nil
}
