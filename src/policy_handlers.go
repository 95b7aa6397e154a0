package main

import (
	"net/http"
	"rentals/src/boot"
	"rentals/src/middlewares"
	"rentals/src/types"

	"github.com/gin-gonic/gin"
)

func policyHandlers(g *gin.RouterGroup, app *boot.App) *gin.RouterGroup {
	g.
		GET("/policies", func(ctx *gin.Context) {
			policies, err := app.Policies.List(ctx)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": policies, "count": len(policies)})
		}).
		GET("/policies/:id", func(ctx *gin.Context) {
			id, ok := idParam(ctx)
			if !ok {
				return
			}
			p, err := app.Policies.Get(ctx, id)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": p})
		}).
		POST("/policies", middlewares.RequireRole(types.ROLE_ADMIN), func(ctx *gin.Context) {
			var body types.CreatePolicyRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			p, err := app.Policies.Create(ctx, body.Name, body.Description, body.Rules)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": p})
		})
	return g
}
