package main

import (
	"log"
	"net/http"
	"rentals/src/booking"
	"rentals/src/boot"
	"rentals/src/middlewares"
	"rentals/src/types"

	"github.com/gin-gonic/gin"
)

func bookingHandlers(g *gin.RouterGroup, app *boot.App) *gin.RouterGroup {
	g.
		GET("/bookings", func(ctx *gin.Context) {
			var query types.BookingListQuery
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			uid := ctx.GetString("uid")
			filter := booking.ListFilter{Status: query.Status, Limit: query.Limit, Offset: query.Offset}
			switch query.As {
			case "renter":
				filter.RenterID = uid
			case "owner":
				filter.OwnerID = uid
			default:
				filter.RenterID = uid
				filter.OwnerID = uid
			}
			bookings, err := app.Bookings.List(ctx, filter)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": bookings, "count": len(bookings)})
		}).
		POST("/bookings", func(ctx *gin.Context) {
			var body types.CreateBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				log.Printf("[Booking] invalid request: %s\n", err.Error())
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			b, err := app.Bookings.RequestBooking(ctx, booking.RequestInput{
				ListingID:  body.ListingID,
				RenterID:   ctx.GetString("uid"),
				StartDate:  body.StartDate,
				EndDate:    body.EndDate,
				GuestCount: body.GuestCount,
				Message:    body.Message,
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": b})
		}).
		GET("/bookings/:id", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		GET("/bookings/:id/history", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			history, err := app.Bookings.History(ctx, b.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": history, "count": len(history)})
		}).
		GET("/bookings/:id/ledger", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			entries, err := app.Bookings.Ledger(ctx, b.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
		}).
		GET("/bookings/:id/deposits", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			holds, err := app.Deposits.ForBooking(ctx, b.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": holds, "count": len(holds)})
		}).
		GET("/bookings/:id/disputes", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			disputes, err := app.Disputes.ForBooking(ctx, b.ID)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": disputes, "count": len(disputes)})
		}).
		POST("/bookings/:id/submit", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, renterOnly)
			if !ok {
				return
			}
			var body struct {
				PaymentMethod string `json:"payment_method"`
			}
			if ctx.Request.ContentLength > 0 {
				if err := ctx.ShouldBindJSON(&body); err != nil {
					ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}
			b, err := app.Bookings.Submit(ctx, b.ID, ctx.GetString("uid"), body.PaymentMethod)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/bookings/:id/approve", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, ownerOnly)
			if !ok {
				return
			}
			b, err := app.Bookings.Approve(ctx, b.ID, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/bookings/:id/deposit", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, renterOnly)
			if !ok {
				return
			}
			var body types.DepositRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			hold, err := app.Bookings.AuthorizeDeposit(ctx, b.ID, body.PaymentMethod)
			if err != nil {
				respondError(ctx, err)
				return
			}
			if hold == nil {
				ctx.Status(http.StatusNoContent)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": hold})
		}).
		POST("/bookings/:id/pay", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, renterOnly)
			if !ok {
				return
			}
			var body types.PayBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			b, err := app.Bookings.Pay(ctx, b.ID, ctx.GetString("uid"), body.PaymentMethod)
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/bookings/:id/check-in", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			b, err := app.Bookings.CheckIn(ctx, b.ID, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/bookings/:id/check-out", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			b, err := app.Bookings.CheckOut(ctx, b.ID, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/bookings/:id/inspection", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, ownerOnly)
			if !ok {
				return
			}
			var body types.InspectionRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			b, dispute, err := app.Bookings.CompleteInspection(ctx, booking.InspectionInput{
				BookingID:     b.ID,
				Actor:         ctx.GetString("uid"),
				HasIssues:     body.HasIssues,
				Notes:         body.Notes,
				ClaimedAmount: body.ClaimedAmount,
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b, "dispute": dispute})
		}).
		POST("/bookings/:id/cancel", func(ctx *gin.Context) {
			b, ok := loadBooking(ctx, app, anyParty)
			if !ok {
				return
			}
			var body types.CancelBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if body.DepositDeduction > 0 && !isAdmin(ctx) {
				respondError(ctx, &types.ForbiddenError{Actor: ctx.GetString("uid"), Action: "deduct from the deposit"})
				return
			}
			b, err := app.Bookings.Cancel(ctx, booking.CancelInput{
				BookingID:        b.ID,
				Actor:            ctx.GetString("uid"),
				Reason:           body.Reason,
				DepositDeduction: body.DepositDeduction,
			})
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		})

	admin := g.Group("/bookings", middlewares.RequireRole(types.ROLE_ADMIN, types.ROLE_SYSTEM))
	admin.
		POST("/:id/confirm-payment", func(ctx *gin.Context) {
			id, ok := idParam(ctx)
			if !ok {
				return
			}
			var body types.ConfirmPaymentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			b, err := app.Bookings.ConfirmPayment(ctx, id, body.PaymentReference, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/:id/settle", func(ctx *gin.Context) {
			id, ok := idParam(ctx)
			if !ok {
				return
			}
			b, err := app.Bookings.Settle(ctx, id, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		}).
		POST("/:id/reconcile", func(ctx *gin.Context) {
			id, ok := idParam(ctx)
			if !ok {
				return
			}
			b, err := app.Bookings.Reconcile(ctx, id, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": b})
		})
	return g
}
