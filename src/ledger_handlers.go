package main

import (
	"log"
	"net/http"
	"rentals/src/boot"
	"rentals/src/middlewares"
	"rentals/src/models"
	"rentals/src/types"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ledgerHandlers exposes manual settlement and reversal of postings for
// operators working through reconciliation.
func ledgerHandlers(g *gin.RouterGroup, app *boot.App) *gin.RouterGroup {
	ledger := g.Group("/ledger", middlewares.RequireRole(types.ROLE_ADMIN))
	ledger.
		GET("/entries", func(ctx *gin.Context) {
			ref := ctx.Query("reference_id")
			if ref == "" {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "reference_id is required"})
				return
			}
			entries, err := app.Ledger.Entries(app.DB.WithContext(ctx), ref)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
		}).
		POST("/settlements", func(ctx *gin.Context) {
			var body types.SettlementRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var entries []models.LedgerEntry
			err := app.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := app.Ledger.Settle(tx, body.ReferenceID); err != nil {
					return err
				}
				var err error
				entries, err = app.Ledger.Entries(tx, body.ReferenceID)
				return err
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			log.Printf("[Ledger] %s settled by %s\n", body.ReferenceID, ctx.GetString("uid"))
			ctx.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
		}).
		POST("/reversals", func(ctx *gin.Context) {
			var body types.ReverseRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var written []models.LedgerEntry
			err := app.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				var err error
				written, err = app.Ledger.Reverse(tx, body.ReferenceID, body.Reason)
				return err
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			log.Printf("[Ledger] %s reversed by %s: %s\n", body.ReferenceID, ctx.GetString("uid"), body.Reason)
			ctx.JSON(http.StatusOK, gin.H{"data": written, "count": len(written)})
		})
	return g
}
