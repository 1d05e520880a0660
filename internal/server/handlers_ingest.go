package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"dialqueue/internal/ingest"
	"dialqueue/internal/logging"
	"dialqueue/internal/queue"
)

const reportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleAddCall ingests a lead workbook. The upload replaces the whole
// profile batch and enqueues every lead marked to_call; a call is kicked
// off once ingestion commits.
func (s *Server) handleAddCall(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		s.logger.Error("upload open failed", logging.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	profiles, err := ingest.ReadWorkbook(file)
	if err != nil {
		s.logger.Warn("workbook parse failed",
			logging.String("filename", fileHeader.Filename), logging.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to process workbook"})
		return
	}

	for _, profile := range profiles {
		if profile.CountryCode == "" {
			profile.CountryCode = s.defaultCountry
		}
	}

	ctx := c.Request.Context()
	if err := s.store.ReplaceProfiles(ctx, profiles); err != nil {
		s.logger.Error("profile replace failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store leads"})
		return
	}

	added := 0
	for _, profile := range profiles {
		if !profile.ToCall {
			continue
		}
		if queue.CleanPhoneNumber(profile.PhoneNumber) == "" {
			s.logger.Warn("lead has no dialable number",
				logging.String(logging.FieldCustomerID, profile.CustomerID))
			continue
		}
		_, err := s.store.Enqueue(ctx, profile.CustomerID, profile.Name, profile.DialNumber(), "")
		if err != nil {
			if errors.Is(err, queue.ErrDuplicatePhone) {
				s.logger.Warn("skipping duplicate number",
					logging.String(logging.FieldCustomerID, profile.CustomerID))
				continue
			}
			s.logger.Error("enqueue failed",
				logging.String(logging.FieldCustomerID, profile.CustomerID),
				logging.Error(err))
			continue
		}
		added++
	}

	s.logger.Info("workbook ingested",
		logging.Int("rows", len(profiles)), logging.Int("queued", added))
	s.advanceAsync(c)
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Processed %d rows. Added %d new entries to queue.", len(profiles), added),
	})
}

// handleDownloadExcel exports the current profiles, call outcomes
// included, and delivers the report.
func (s *Server) handleDownloadExcel(c *gin.Context) {
	profiles, err := s.store.ListProfiles(c.Request.Context())
	if err != nil {
		s.logger.Error("profile listing failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}
	if err := ingest.ExportWorkbook(s.reportPath, profiles); err != nil {
		s.logger.Error("report export failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}
	c.Header("Content-Type", reportContentType)
	c.FileAttachment(s.reportPath, filepath.Base(s.reportPath))
}

// handleExcelStatus serves the last exported report when one exists.
func (s *Server) handleExcelStatus(c *gin.Context) {
	if _, err := os.Stat(s.reportPath); err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "File isn't ready yet."})
		return
	}
	c.Header("Content-Type", reportContentType)
	c.FileAttachment(s.reportPath, filepath.Base(s.reportPath))
}
