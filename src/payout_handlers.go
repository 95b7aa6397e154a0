package main

import (
	"net/http"
	"rentals/src/boot"
	"rentals/src/middlewares"
	"rentals/src/types"

	"github.com/gin-gonic/gin"
)

func payoutHandlers(g *gin.RouterGroup, app *boot.App) *gin.RouterGroup {
	g.
		GET("/payouts", func(ctx *gin.Context) {
			payouts, err := app.Payouts.List(ctx, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": payouts, "count": len(payouts)})
		}).
		GET("/payouts/summary", func(ctx *gin.Context) {
			summary, err := app.Payouts.Summarize(ctx, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": summary})
		})

	owners := g.Group("/owners", middlewares.RequireRole(types.ROLE_ADMIN, types.ROLE_SYSTEM))
	owners.
		GET("/:id/balance", func(ctx *gin.Context) {
			var params types.OwnerRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			summary, err := app.Payouts.Summarize(ctx, params.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": summary})
		}).
		GET("/:id/payouts", func(ctx *gin.Context) {
			var params types.OwnerRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			payouts, err := app.Payouts.List(ctx, params.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			summary, err := app.Payouts.Summarize(ctx, params.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": payouts, "count": len(payouts), "summary": summary})
		}).
		POST("/:id/payouts", func(ctx *gin.Context) {
			var params types.OwnerRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Status(http.StatusBadRequest)
				return
			}
			p, err := app.Payouts.RunForOwner(ctx, params.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			if p == nil {
				ctx.Status(http.StatusNoContent)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": p})
		})
	return g
}
