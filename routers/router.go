package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/pladee42/alt-history-reel/models"
	"github.com/pladee42/alt-history-reel/routers/api"
)

func InitRouter(store models.Store) *gin.Engine {
	r := gin.Default()
	h := api.NewRecordHandlers(store)

	v1 := r.Group("/v1/api")
	{
		v1.GET("/records", h.ListRecords)
		v1.GET("/records/:record_id", h.GetRecord)
		v1.POST("/records/:record_id/reset", h.ResetRecord)
	}
	r.GET("/records/:record_id/wss", h.RecordProgressWebSocket)
	return r
}
