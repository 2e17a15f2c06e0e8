package api

import (
	"net/http"

	"pos-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) openSession(c *gin.Context) {
	var req service.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.CashierID = operatorID(c)

	session, err := h.svc.Sessions.OpenSession(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

type closeSessionRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) closeSession(c *gin.Context) {
	var req closeSessionRequest
	// an empty body closes without notes
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	session, err := h.svc.Sessions.CloseSession(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.svc.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// getActiveSession answers with a null session when the register is closed
func (h *Handler) getActiveSession(c *gin.Context) {
	session, err := h.svc.Sessions.GetActiveSession(c.Request.Context(), c.Param("storeId"), c.Param("registerId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) listActiveSessions(c *gin.Context) {
	sessions, err := h.svc.Sessions.GetActiveSessionsByStore(c.Request.Context(), c.Param("storeId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) registerTransaction(c *gin.Context) {
	var req service.RegisterTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.PerformedBy = operatorID(c)

	txn, err := h.svc.Ledger.RegisterTransaction(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func (h *Handler) listSessionTransactions(c *gin.Context) {
	txns, err := h.svc.Ledger.ListSessionTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}
