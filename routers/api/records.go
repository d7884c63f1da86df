package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pladee42/alt-history-reel/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RecordHandlers exposes read access to the scenario table plus the
// operator reset. All pipeline work happens in phase runs; this surface
// only observes and unblocks.
type RecordHandlers struct {
	store models.Store
}

func NewRecordHandlers(store models.Store) *RecordHandlers {
	return &RecordHandlers{store: store}
}

// ListRecords returns records, optionally filtered: GET /v1/api/records?status=PENDING
func (h *RecordHandlers) ListRecords(c *gin.Context) {
	statusParam := c.Query("status")
	if statusParam == "" {
		all, err := h.store.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": all})
		return
	}

	status := models.Status(statusParam)
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + statusParam})
		return
	}
	recs, err := h.store.ListByStatus(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// GetRecord returns one record: GET /v1/api/records/:record_id
func (h *RecordHandlers) GetRecord(c *gin.Context) {
	rec, err := h.store.Get(c.Param("record_id"))
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

// ResetRecord moves a FAILED record back to PENDING: POST /v1/api/records/:record_id/reset
func (h *RecordHandlers) ResetRecord(c *gin.Context) {
	id := c.Param("record_id")
	if err := h.store.ResetFailed(id); err != nil {
		switch {
		case errors.Is(err, models.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		case errors.Is(err, models.ErrStaleStatus):
			c.JSON(http.StatusConflict, gin.H{"error": "record is not in FAILED status"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusPending})
}

// RecordProgressWebSocket streams a record's status changes until it reaches
// a terminal status. The pipeline writes to the store; this handler only
// polls and pushes, so it stays correct no matter which process is running
// the phases.
func (h *RecordHandlers) RecordProgressWebSocket(c *gin.Context) {
	id := c.Param("record_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	rec, err := h.store.Get(id)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "record not found"})
		return
	}
	_ = conn.WriteJSON(rec)
	if rec.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prev := rec.Status
	for range ticker.C {
		cur, err := h.store.Get(id)
		if err != nil {
			continue
		}
		if cur.Status != prev {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prev = cur.Status
		}
		if cur.Status.IsTerminal() {
			break
		}
	}
}
