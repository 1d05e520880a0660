package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"dialqueue/internal/queue"
)

// Column headers recognized in lead workbooks. Matching is case and
// whitespace insensitive.
const (
	colCustomerID   = "customer_id"
	colName         = "customer_name"
	colPhone        = "phone_number"
	colCountryCode  = "country_code"
	colEmail        = "email"
	colCompany      = "company_name"
	colIndustry     = "industry"
	colLocation     = "location"
	colRequirements = "customer_requirements"
	colToCall       = "to_call"
	colNotes        = "notes"
	colTasks        = "tasks"
)

// LoadWorkbook reads lead profiles from the first sheet of an Excel
// workbook. The first row must be a header row; rows without a customer id
// are skipped. ToCall is true only when the to_call cell reads "yes".
func LoadWorkbook(path string) ([]*queue.Profile, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return parseWorkbook(f, path)
}

// ReadWorkbook parses lead profiles from an in-memory workbook, for
// uploads that never touch disk.
func ReadWorkbook(r io.Reader) ([]*queue.Profile, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return parseWorkbook(f, "upload")
}

func parseWorkbook(f *excelize.File, source string) ([]*queue.Profile, error) {
	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook %s has no sheets", source)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook %s is empty", source)
	}

	index := headerIndex(rows[0])
	if _, ok := index[colCustomerID]; !ok {
		return nil, fmt.Errorf("workbook %s missing %s column", source, colCustomerID)
	}

	var profiles []*queue.Profile
	for _, row := range rows[1:] {
		customerID := strings.TrimSpace(cell(row, index, colCustomerID))
		if customerID == "" {
			continue
		}
		profile := &queue.Profile{
			CustomerID:   customerID,
			Name:         strings.TrimSpace(cell(row, index, colName)),
			PhoneNumber:  strings.TrimSpace(cell(row, index, colPhone)),
			CountryCode:  strings.TrimSpace(cell(row, index, colCountryCode)),
			Email:        strings.TrimSpace(cell(row, index, colEmail)),
			Company:      strings.TrimSpace(cell(row, index, colCompany)),
			Industry:     strings.TrimSpace(cell(row, index, colIndustry)),
			Location:     strings.TrimSpace(cell(row, index, colLocation)),
			Requirements: strings.TrimSpace(cell(row, index, colRequirements)),
			Notes:        strings.TrimSpace(cell(row, index, colNotes)),
			Tasks:        strings.TrimSpace(cell(row, index, colTasks)),
			ToCall:       strings.EqualFold(strings.TrimSpace(cell(row, index, colToCall)), "yes"),
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// ExportWorkbook writes the current profiles, call outcomes included, to an
// Excel report at path.
func ExportWorkbook(path string, profiles []*queue.Profile) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Leads"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headers := []string{
		colCustomerID, colName, colPhone, colCountryCode,
		colEmail, colCompany, colIndustry, colLocation, colRequirements,
		colToCall, "last_call_status", colNotes, colTasks,
	}
	for i, header := range headers {
		cellRef, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cellRef, header); err != nil {
			return fmt.Errorf("write header %s: %w", header, err)
		}
	}

	for rowIdx, profile := range profiles {
		toCall := "no"
		if profile.ToCall {
			toCall = "yes"
		}
		values := []string{
			profile.CustomerID,
			profile.Name,
			profile.PhoneNumber,
			profile.CountryCode,
			profile.Email,
			profile.Company,
			profile.Industry,
			profile.Location,
			profile.Requirements,
			toCall,
			profile.LastCallStatus,
			profile.Notes,
			profile.Tasks,
		}
		for colIdx, value := range values {
			cellRef, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cellRef, value); err != nil {
				return fmt.Errorf("write row %d: %w", rowIdx+2, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := index[normalized]; !exists {
			index[normalized] = i
		}
	}
	return index
}

func cell(row []string, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
