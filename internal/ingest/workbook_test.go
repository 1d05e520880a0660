package ingest_test

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"dialqueue/internal/ingest"
	"dialqueue/internal/queue"
)

func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for rowIdx, row := range rows {
		for colIdx, value := range row {
			cellRef, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue("Sheet1", cellRef, value); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func TestLoadWorkbookParsesProfiles(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Customer_ID", "Customer_Name", "Phone_Number", "Country_Code", "Email", "Company_Name", "Industry", "Location", "Customer_Requirements", "To_Call", "Notes"},
		{"cust-1", "Ada Lovelace", "(555) 000-1111", "44", "ada@example.com", "Analytical Engines", "Computing", "London", "needs batch tabulation", "Yes", "warm lead"},
		{"cust-2", "Grace Hopper", "555-000-2222", "", "grace@example.com", "Navy", "", "", "", "no", ""},
		{"", "Headerless Row", "", "", "", "", "", "", "", "", ""},
	})

	profiles, err := ingest.LoadWorkbook(path)
	if err != nil {
		t.Fatalf("LoadWorkbook failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	ada := profiles[0]
	if ada.CustomerID != "cust-1" || !ada.ToCall || ada.CountryCode != "44" || ada.Notes != "warm lead" {
		t.Fatalf("unexpected first profile: %#v", ada)
	}
	if ada.Industry != "Computing" || ada.Location != "London" || ada.Requirements != "needs batch tabulation" {
		t.Fatalf("enrichment columns not parsed: %#v", ada)
	}
	if profiles[1].ToCall {
		t.Fatal("to_call=no row should not be marked callable")
	}
}

func TestLoadWorkbookRequiresCustomerIDColumn(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Name", "Phone_Number"},
		{"Ada", "555"},
	})

	if _, err := ingest.LoadWorkbook(path); err == nil {
		t.Fatal("expected missing column error")
	}
}

func TestLoadWorkbookRejectsMissingFile(t *testing.T) {
	if _, err := ingest.LoadWorkbook(filepath.Join(t.TempDir(), "absent.xlsx")); err == nil {
		t.Fatal("expected open error")
	}
}

func TestExportWorkbookRoundTrips(t *testing.T) {
	profiles := []*queue.Profile{
		{
			CustomerID:     "cust-1",
			Name:           "Ada Lovelace",
			PhoneNumber:    "5550001111",
			CountryCode:    "1",
			Email:          "ada@example.com",
			Company:        "Analytical Engines",
			Industry:       "Computing",
			Location:       "London",
			Requirements:   "needs batch tabulation",
			ToCall:         true,
			LastCallStatus: "completed",
			Notes:          "[2026-01-01 10:00:00] Interested in premium plan",
			Tasks:          "1. Send pricing sheet",
		},
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := ingest.ExportWorkbook(path, profiles); err != nil {
		t.Fatalf("ExportWorkbook failed: %v", err)
	}

	loaded, err := ingest.LoadWorkbook(path)
	if err != nil {
		t.Fatalf("LoadWorkbook of export failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Name != "Ada Lovelace" || !got.ToCall || got.Notes == "" {
		t.Fatalf("unexpected round-tripped profile: %#v", got)
	}
	if got.Industry != "Computing" || got.Requirements != "needs batch tabulation" || got.Tasks != "1. Send pricing sheet" {
		t.Fatalf("enrichment columns lost in export: %#v", got)
	}

	// last_call_status is report-only but must be present in the sheet.
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	status, err := f.GetCellValue("Leads", "K2")
	if err != nil || status != "completed" {
		t.Fatalf("status cell = %q, err=%v", status, err)
	}
}
