package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dialqueue/internal/logging"
)

// webhookPayload accepts both the agent platform's nested post-call shape
// and a flat shape for direct integrations.
type webhookPayload struct {
	CustomerID string `json:"customer_id"`
	CallStatus string `json:"call_status"`
	Transcript string `json:"transcript"`

	Data struct {
		Status                           string `json:"status"`
		ConversationInitiationClientData struct {
			DynamicVariables struct {
				CustomerID string `json:"customer_id"`
			} `json:"dynamic_variables"`
		} `json:"conversation_initiation_client_data"`
		Transcript []struct {
			Role    string `json:"role"`
			Message string `json:"message"`
		} `json:"transcript"`
	} `json:"data"`
}

func (p webhookPayload) customerID() string {
	if id := strings.TrimSpace(p.Data.ConversationInitiationClientData.DynamicVariables.CustomerID); id != "" {
		return id
	}
	return strings.TrimSpace(p.CustomerID)
}

func (p webhookPayload) transcript() string {
	if p.Transcript != "" {
		return p.Transcript
	}
	var b strings.Builder
	for _, turn := range p.Data.Transcript {
		if strings.TrimSpace(turn.Message) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Message)
	}
	return b.String()
}

// handleCallEnded reconciles the provider's post-call webhook with the
// queue. Duplicate and late deliveries are acknowledged without effect.
func (s *Server) handleCallEnded(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}

	customerID := payload.customerID()
	if customerID == "" {
		s.logger.Warn("webhook missing customer id")
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_id is required"})
		return
	}

	won, err := s.dispatcher.HandleCallEnded(
		c.Request.Context(), customerID, payload.CallStatus, payload.transcript())
	if err != nil {
		s.logger.Error("webhook processing failed",
			logging.String(logging.FieldCustomerID, customerID), logging.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "webhook processed",
		"customer_id": customerID,
		"finalized":   won,
	})
}
