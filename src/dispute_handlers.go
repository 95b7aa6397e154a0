package main

import (
	"errors"
	"net/http"
	"rentals/src/boot"
	"rentals/src/dispute"
	"rentals/src/middlewares"
	"rentals/src/models"
	"rentals/src/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// loadDispute fetches the dispute named by :id for one of its parties or
// an admin.
func loadDispute(ctx *gin.Context, app *boot.App) (*models.Dispute, bool) {
	id, ok := idParam(ctx)
	if !ok {
		return nil, false
	}
	d, err := app.Disputes.Get(ctx, id)
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	uid := ctx.GetString("uid")
	if !isAdmin(ctx) && uid != d.InitiatorID && uid != d.RespondentID {
		respondError(ctx, &types.NotFoundError{Entity: "dispute", ID: id.String()})
		return nil, false
	}
	return d, true
}

func disputeHandlers(g *gin.RouterGroup, app *boot.App) *gin.RouterGroup {
	g.
		POST("/bookings/:id/disputes", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			var body types.OpenDisputeRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			in := dispute.OpenInput{
				BookingID:   b.ID,
				InitiatorID: ctx.GetString("uid"),
				Type:        body.Type,
				Title:       body.Title,
				Description: body.Description,
				Amount:      body.Amount,
				Priority:    body.Priority,
			}
			if body.ConditionReportID != "" {
				reportID := uuid.MustParse(body.ConditionReportID)
				in.ConditionReportID = &reportID
			}
			d, err := app.Disputes.Open(ctx, in)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": d})
		}).
		GET("/disputes/:id", func(ctx *gin.Context) {
			d, ok := loadDispute(ctx, app)
			if !ok {
				return
			}
			var notFound *types.NotFoundError
			resolution, err := app.Disputes.Resolution(ctx, d.ID)
			if err != nil && !errors.As(err, &notFound) {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": d, "resolution": resolution})
		}).
		GET("/disputes/:id/timeline", func(ctx *gin.Context) {
			d, ok := loadDispute(ctx, app)
			if !ok {
				return
			}
			timeline, err := app.Disputes.Timeline(ctx, d.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": timeline, "count": len(timeline)})
		}).
		POST("/disputes/:id/comments", func(ctx *gin.Context) {
			d, ok := loadDispute(ctx, app)
			if !ok {
				return
			}
			var body types.DisputeCommentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			entry, err := app.Disputes.Comment(ctx, d.ID, ctx.GetString("uid"), body.Message)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": entry})
		}).
		POST("/disputes/:id/close", func(ctx *gin.Context) {
			d, ok := loadDispute(ctx, app)
			if !ok {
				return
			}
			if !isAdmin(ctx) && ctx.GetString("uid") != d.InitiatorID {
				respondError(ctx, &types.ForbiddenError{Actor: ctx.GetString("uid"), Action: "close dispute " + d.ID.String()})
				return
			}
			var body types.CloseDisputeRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			d, err := app.Disputes.Close(ctx, d.ID, ctx.GetString("uid"), body.Reason)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": d})
		})

	admin := g.Group("/disputes", middlewares.RequireRole(types.ROLE_ADMIN))
	admin.
		POST("/:id/status", func(ctx *gin.Context) {
			id, ok := idParam(ctx)
			if !ok {
				return
			}
			var body types.DisputeStatusRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			d, err := app.Disputes.Transition(ctx, id, body.Status, ctx.GetString("uid"), body.Note)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": d})
		}).
		POST("/:id/resolve", func(ctx *gin.Context) {
			id, ok := idParam(ctx)
			if !ok {
				return
			}
			var body types.ResolveDisputeRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			d, resolution, err := app.Disputes.Resolve(ctx, dispute.ResolveInput{
				DisputeID:        id,
				Outcome:          body.Outcome,
				RefundAmount:     body.RefundAmount,
				PayoutAdjustment: body.PayoutAdjustment,
				DepositAction:    body.DepositAction,
				DepositDeduction: body.DepositDeduction,
				ResolvedBy:       ctx.GetString("uid"),
				Notes:            body.Notes,
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": d, "resolution": resolution})
		})
	return g
}
