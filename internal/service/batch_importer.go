package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/surgery-scheduler-server/internal/domain"
)

// SheetFormat is the file format of an import spreadsheet.
type SheetFormat string

const (
	FormatXLSX SheetFormat = "xlsx"
	FormatCSV  SheetFormat = "csv"
)

// Content types served for each format.
const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

// ContentType returns the MIME type of the format.
func (f SheetFormat) ContentType() string {
	if f == FormatCSV {
		return ContentTypeCSV
	}
	return ContentTypeXLSX
}

// FormatForPath picks CSV for ".csv" paths and stdout ("-"), xlsx otherwise.
func FormatForPath(path string) SheetFormat {
	if path == "-" || strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatXLSX
}

const sheetName = "Surgeries"

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Spreadsheet column headers.
const (
	colPatientAge       = "Patient Age"
	colBMI              = "BMI"
	colSurgeryType      = "Surgery Type"
	colSurgeon          = "Surgeon"
	colAnesthesiologist = "Anesthesiologist"
	colNurse            = "Nurse"
	colDayOfWeek        = "Day of Week"
	colTimePreference   = "Time Preference"
	colComorbidities    = "Comorbidities"
	colInstrumentReady  = "Instrument Ready (Y/N)"
	colPACUBedReady     = "PACU Bed Ready (Y/N)"
	colPreOpPrep        = "Pre-op Prep Time (min)"
	colTransferToOR     = "Transfer to OR Time (min)"
	colAnesthesia       = "Anesthesia Time (min)"
	colPositioning      = "Positioning Time (min)"
	colScheduledStart   = "Scheduled Start"
)

// RequiredColumns lists the headers every import must carry, in template order.
var RequiredColumns = []string{
	colPatientAge, colBMI, colSurgeryType, colSurgeon, colAnesthesiologist, colNurse,
	colDayOfWeek, colTimePreference, colComorbidities, colInstrumentReady, colPACUBedReady,
}

// Values used when an imported cell is blank.
const (
	defaultBMI         = 25.0
	defaultStaff       = "Unknown"
	defaultDay         = "Monday"
	defaultPreOpPrep   = 30
	defaultTransfer    = 15
	defaultAnesthesia  = 20
	defaultPositioning = 10
	morningStart       = "09:00"
	afternoonStart     = "13:00"

	// templateTitleRows is the number of title rows above the header in the
	// downloadable template layout.
	templateTitleRows = 3
)

// Import failures reported to the caller as invalid input.
var (
	ErrEmptyUpload      = domain.NewValidationError("file", "The uploaded file contains no data", nil)
	ErrNoValidSurgeries = domain.NewValidationError("file", "No valid surgeries found in the file", nil)
)

// ImportResult holds the requests parsed from a spreadsheet and the per-row problems.
type ImportResult struct {
	Requests []domain.SurgeryRequest
	Errors   []string
}

// BatchImporter parses xlsx and CSV spreadsheets of surgery requests.
type BatchImporter struct{}

// NewBatchImporter creates a new batch importer
func NewBatchImporter() *BatchImporter {
	return &BatchImporter{}
}

// Parse reads every row of the upload. The format is detected from the
// content: xlsx workbooks are read from their first sheet, anything else as
// CSV. Rows that cannot be used are skipped and described in
// ImportResult.Errors; the call itself fails only when the file is empty,
// has no recognisable header, or yields no usable row.
func (b *BatchImporter) Parse(r io.Reader) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewValidationError("file", fmt.Sprintf("Could not read upload: %v", err), nil)
	}

	var records [][]string
	switch {
	case bytes.HasPrefix(data, zipMagic):
		records, err = readWorkbook(data)
	case bytes.HasPrefix(data, oleMagic):
		return nil, domain.NewValidationError("file", "Legacy .xls files are not supported, save the sheet as .xlsx", nil)
	default:
		records, err = readCSV(data)
	}
	if err != nil {
		return nil, domain.NewValidationError("file", fmt.Sprintf("Could not read spreadsheet: %v", err), nil)
	}
	if len(records) == 0 {
		return nil, ErrEmptyUpload
	}

	header, body, err := locateHeader(records)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyUpload
	}

	result := &ImportResult{}
	for i, record := range body {
		// Row numbers count the header as row 1.
		rowNum := i + 2
		row := spreadsheetRow{header: header, record: record}

		if row.blank(colPatientAge) || row.blank(colSurgeryType) {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: Skipped due to missing required values", rowNum))
			continue
		}

		req, err := row.request()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Error in row %d: %v", rowNum, err))
			continue
		}
		result.Requests = append(result.Requests, *req)
	}

	if len(result.Requests) == 0 {
		return result, ErrNoValidSurgeries
	}
	return result, nil
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

func readCSV(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader.ReadAll()
}

// locateHeader finds the header either on the first row or below the
// template title rows.
func locateHeader(records [][]string) (map[string]int, [][]string, error) {
	var problems []string

	for _, skip := range []int{0, templateTitleRows} {
		if skip >= len(records) {
			break
		}
		header := indexHeader(records[skip])
		missing := missingColumns(header)
		if len(missing) == 0 {
			return header, records[skip+1:], nil
		}
		if skip == 0 {
			problems = append(problems, "Missing columns in standard format: "+strings.Join(missing, ", "))
		} else {
			problems = append(problems, fmt.Sprintf("Missing columns with %d header rows: %s", skip, strings.Join(missing, ", ")))
		}
	}

	return nil, nil, domain.NewValidationError("file",
		"Could not read file with required columns. Errors: "+strings.Join(problems, "; "), nil)
}

func indexHeader(record []string) map[string]int {
	header := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := header[name]; !dup {
			header[name] = i
		}
	}
	return header
}

func missingColumns(header map[string]int) []string {
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

type spreadsheetRow struct {
	header map[string]int
	record []string
}

func (r spreadsheetRow) value(col string) string {
	idx, ok := r.header[col]
	if !ok || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}

func (r spreadsheetRow) blank(col string) bool {
	return r.value(col) == ""
}

func (r spreadsheetRow) text(col, fallback string) string {
	if v := r.value(col); v != "" {
		return v
	}
	return fallback
}

func (r spreadsheetRow) number(col string, fallback float64) (float64, error) {
	v := r.value(col)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("invalid %s %q", col, v)
	}
	return n, nil
}

func (r spreadsheetRow) minutes(col string, fallback int) (int, error) {
	n, err := r.number(col, float64(fallback))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", col)
	}
	return int(n), nil
}

func (r spreadsheetRow) request() (*domain.SurgeryRequest, error) {
	age, err := r.number(colPatientAge, 0)
	if err != nil {
		return nil, err
	}
	if age < 0 {
		return nil, fmt.Errorf("%s must not be negative", colPatientAge)
	}
	bmi, err := r.number(colBMI, defaultBMI)
	if err != nil {
		return nil, err
	}

	pref := domain.TimePreference(r.text(colTimePreference, string(domain.Morning)))
	start := afternoonStart
	if pref == domain.Morning {
		start = morningStart
	}

	req := &domain.SurgeryRequest{
		PatientAge:       int(age),
		BMI:              bmi,
		SurgeryType:      r.value(colSurgeryType),
		Surgeon:          r.text(colSurgeon, defaultStaff),
		Anesthesiologist: r.text(colAnesthesiologist, defaultStaff),
		Nurse:            r.text(colNurse, defaultStaff),
		DayOfWeek:        r.text(colDayOfWeek, defaultDay),
		TimePreference:   pref,
		Comorbidities:    r.text(colComorbidities, domain.NoComorbidities),
		InstrumentReady:  domain.ReadyFlag(strings.ToUpper(r.text(colInstrumentReady, string(domain.Ready)))),
		PACUBedReady:     domain.ReadyFlag(strings.ToUpper(r.text(colPACUBedReady, string(domain.Ready)))),
		ScheduledStart:   r.text(colScheduledStart, start),
	}

	if req.PreOpPrepTime, err = r.minutes(colPreOpPrep, defaultPreOpPrep); err != nil {
		return nil, err
	}
	if req.TransferToORTime, err = r.minutes(colTransferToOR, defaultTransfer); err != nil {
		return nil, err
	}
	if req.AnesthesiaTime, err = r.minutes(colAnesthesia, defaultAnesthesia); err != nil {
		return nil, err
	}
	if req.PositioningTime, err = r.minutes(colPositioning, defaultPositioning); err != nil {
		return nil, err
	}
	return req, nil
}

// templateRows are the example rows written under the template header.
var templateRows = [][]any{
	{45, 24.5, "Hip Replacement", "Dr. Smith", "Dr. Brown", "Nurse A", "Monday", "Morning", "Hypertension", "Y", "Y"},
	{65, 30.2, "Knee Replacement", "Dr. Johnson", "Dr. Davis", "Nurse B", "Tuesday", "Afternoon", "Diabetes", "Y", "Y"},
}

// WriteTemplate writes an import template with the required header and two example rows.
func (b *BatchImporter) WriteTemplate(w io.Writer, format SheetFormat) error {
	return writeSheet(w, format, RequiredColumns, templateRows)
}

// WriteRequests writes requests in the import layout, including the optional time columns.
func (b *BatchImporter) WriteRequests(w io.Writer, requests []domain.SurgeryRequest, format SheetFormat) error {
	header := append(append([]string{}, RequiredColumns...),
		colPreOpPrep, colTransferToOR, colAnesthesia, colPositioning, colScheduledStart)

	rows := make([][]any, len(requests))
	for i, r := range requests {
		rows[i] = []any{
			r.PatientAge,
			r.BMI,
			r.SurgeryType,
			r.Surgeon,
			r.Anesthesiologist,
			r.Nurse,
			r.DayOfWeek,
			r.TimePreference.String(),
			r.Comorbidities,
			r.InstrumentReady.String(),
			r.PACUBedReady.String(),
			r.PreOpPrepTime,
			r.TransferToORTime,
			r.AnesthesiaTime,
			r.PositioningTime,
			r.ScheduledStart,
		}
	}
	return writeSheet(w, format, header, rows)
}

func writeSheet(w io.Writer, format SheetFormat, header []string, rows [][]any) error {
	if format == FormatCSV {
		return writeCSV(w, header, rows)
	}
	return writeXLSX(w, header, rows)
}

func writeXLSX(w io.Writer, header []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := setRow(f, 1, headerRow); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, row := range rows {
		if err := setRow(f, i+2, row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheetName, cell, &values)
}

func writeCSV(w io.Writer, header []string, rows [][]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = cellText(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing rows: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	return nil
}

func cellText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
