package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dialqueue/internal/logging"
	"dialqueue/internal/queue"
)

type queueEntryView struct {
	CallID     int64  `json:"call_id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ClaimedAt  string `json:"claimed_at,omitempty"`
}

type profileView struct {
	CustomerID     string `json:"customer_id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	CountryCode    string `json:"country_code"`
	Email          string `json:"email"`
	Company        string `json:"company"`
	Industry       string `json:"industry,omitempty"`
	Location       string `json:"location,omitempty"`
	Requirements   string `json:"requirements,omitempty"`
	ToCall         bool   `json:"to_call"`
	LastCallStatus string `json:"last_call_status"`
	Tasks          string `json:"tasks,omitempty"`
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	entries, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.Error("queue listing failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch queue status"})
		return
	}

	views := make([]queueEntryView, 0, len(entries))
	for _, entry := range entries {
		view := queueEntryView{
			CallID:     entry.ID,
			CustomerID: entry.CustomerID,
			Name:       entry.Name,
			Phone:      entry.PhoneNumber,
			Status:     string(entry.Status),
			CreatedAt:  entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.ClaimedAt != nil {
			view.ClaimedAt = entry.ClaimedAt.Format(time.RFC3339)
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"queue": views})
}

func (s *Server) handleProfileStatus(c *gin.Context) {
	profiles, err := s.store.ListProfiles(c.Request.Context())
	if err != nil {
		s.logger.Error("profile listing failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch customer data"})
		return
	}

	views := make([]profileView, 0, len(profiles))
	for _, profile := range profiles {
		views = append(views, profileView{
			CustomerID:     profile.CustomerID,
			Name:           profile.Name,
			Phone:          profile.PhoneNumber,
			CountryCode:    profile.CountryCode,
			Email:          profile.Email,
			Company:        profile.Company,
			Industry:       profile.Industry,
			Location:       profile.Location,
			Requirements:   profile.Requirements,
			ToCall:         profile.ToCall,
			LastCallStatus: profile.LastCallStatus,
			Tasks:          profile.Tasks,
		})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": views})
}

type updateQueueRequest struct {
	ID          int64   `json:"id"`
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phone_number"`
	Greeting    *string `json:"greeting"`
	Status      *string `json:"status"`
}

func (s *Server) handleUpdateQueue(c *gin.Context) {
	var req updateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if req.Name == nil && req.PhoneNumber == nil && req.Greeting == nil && req.Status == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	ctx := c.Request.Context()
	entry, err := s.store.GetByID(ctx, req.ID)
	if err != nil {
		s.logger.Error("queue lookup failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update queue"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}

	if req.Name != nil {
		entry.Name = *req.Name
	}
	if req.PhoneNumber != nil {
		entry.PhoneNumber = *req.PhoneNumber
	}
	if req.Greeting != nil {
		entry.Greeting = *req.Greeting
	}
	if req.Status != nil {
		status, ok := queue.ParseStatus(*req.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		entry.Status = status
	}

	if err := s.store.Update(ctx, entry); err != nil {
		s.logger.Error("queue update failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "queue updated"})
}

func (s *Server) handleDeleteQueueItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue id"})
		return
	}

	removed, err := s.store.Remove(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("queue delete failed",
			logging.Int64(logging.FieldCallID, id), logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete queue item"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}

	s.advanceAsync(c)
	c.JSON(http.StatusOK, gin.H{"message": "queue item deleted"})
}

func (s *Server) handleDeleteAllQueue(c *gin.Context) {
	deleted, err := s.store.Clear(c.Request.Context())
	if err != nil {
		s.logger.Error("queue clear failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all queue items deleted", "deleted": deleted})
}

func (s *Server) handleDeleteProfiles(c *gin.Context) {
	deleted, err := s.store.PurgeProfiles(c.Request.Context())
	if err != nil {
		s.logger.Error("profile purge failed", logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete customer data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all customer data deleted", "deleted": deleted})
}
