package main

import (
	"errors"
	"log"
	"net/http"
	"rentals/src/boot"
	"rentals/src/models"
	"rentals/src/types"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		validation     *types.ValidationError
		forbidden      *types.ForbiddenError
		notFound       *types.NotFoundError
		conflict       *types.ConflictError
		transition     *types.InvalidTransitionError
		tooEarly       *types.TooEarlyError
		expired        *types.ExpiredHoldError
		payment        *types.PaymentFailedError
		authorization  *types.AuthorizationFailedError
		reconciliation *types.ReconciliationRequiredError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.As(err, &transition), errors.As(err, &tooEarly), errors.As(err, &expired):
		return http.StatusConflict
	case errors.As(err, &payment), errors.As(err, &authorization):
		return http.StatusPaymentRequired
	case errors.As(err, &reconciliation):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func respondError(ctx *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[%s %s] %s\n", ctx.Request.Method, ctx.FullPath(), err.Error())
		ctx.JSON(status, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

// idParam reads the :id path parameter as a UUID.
func idParam(ctx *gin.Context) (uuid.UUID, bool) {
	var params types.SimpleRequestParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, false
	}
	return uuid.MustParse(params.ID), true
}

func isAdmin(ctx *gin.Context) bool {
	return slices.Contains([]string{types.ROLE_ADMIN, types.ROLE_SYSTEM}, ctx.GetString("role"))
}

type party int

const (
	anyParty party = iota
	renterOnly
	ownerOnly
)

// loadBooking fetches the booking named by :id and checks that the caller
// is allowed to act on it. Admins pass every check.
func loadBooking(ctx *gin.Context, app *boot.App, who party) (*models.Booking, bool) {
	id, ok := idParam(ctx)
	if !ok {
		return nil, false
	}
	b, err := app.Bookings.Get(ctx, id)
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	if isAdmin(ctx) {
		return b, true
	}
	uid := ctx.GetString("uid")
	allowed := false
	switch who {
	case renterOnly:
		allowed = uid == b.RenterID
	case ownerOnly:
		allowed = uid == b.OwnerID
	default:
		allowed = uid == b.RenterID || uid == b.OwnerID
	}
	if !allowed {
		// do not reveal bookings the caller is not a party to
		if uid != b.RenterID && uid != b.OwnerID {
			respondError(ctx, &types.NotFoundError{Entity: "booking", ID: id.String()})
		} else {
			respondError(ctx, &types.ForbiddenError{Actor: uid, Action: "act on booking " + id.String()})
		}
		return nil, false
	}
	return b, true
}
