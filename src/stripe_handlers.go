package main

import (
	"io"
	"log"
	"net/http"
	"rentals/src/boot"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

const webhookActor = "stripe-webhook"

// stripeWebhookRoute confirms payments the processor reports as captured.
// Charges made through Pay are already confirmed and the replay is a no-op;
// the webhook covers payments whose synchronous response was lost.
func stripeWebhookRoute(g *gin.RouterGroup, app *boot.App) *gin.RouterGroup {
	g.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		event, err := webhook.ConstructEventWithOptions(payload, ctx.GetHeader("Stripe-Signature"), app.Config.StripeWebhookKey, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		log.Printf("[StripeEvent] %s\n", event.Type)
		object := gjson.ParseBytes(event.Data.Raw)
		bookingID, err := uuid.Parse(object.Get("metadata.booking_id").String())
		switch event.Type {
		case "payment_intent.succeeded":
			if err != nil {
				log.Printf("[Stripe] payment intent %s has no booking\n", object.Get("id").String())
				break
			}
			ref := object.Get("id").String()
			if object.Get("metadata.kind").String() == "deposit" {
				log.Printf("[Stripe] deposit hold %s captured for booking %s\n", ref, bookingID)
				break
			}
			if _, err := app.Bookings.ConfirmPayment(ctx, bookingID, ref, webhookActor); err != nil {
				log.Printf("[Stripe] confirming %s for booking %s: %s\n", ref, bookingID, err.Error())
				retryLater(ctx, err)
				return
			}
			if _, err := app.Bookings.SettlePayment(ctx, bookingID, ref); err != nil {
				log.Printf("[Stripe] settling %s for booking %s: %s\n", ref, bookingID, err.Error())
				retryLater(ctx, err)
				return
			}
		case "payment_intent.payment_failed":
			log.Printf("[Stripe] payment %s failed: %s\n", object.Get("id").String(), object.Get("last_payment_error.message").String())
		case "charge.refunded", "refund.updated":
			log.Printf("[Stripe] refund %s is %s\n", object.Get("id").String(), object.Get("status").String())
		case "transfer.reversed":
			log.Printf("[Stripe] transfer %s to %s reversed\n", object.Get("id").String(), object.Get("destination").String())
		}
		ctx.Status(http.StatusOK)
	})
	return g
}

// retryLater requests redelivery for server-side failures only.
func retryLater(ctx *gin.Context, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		ctx.Status(http.StatusInternalServerError)
		return
	}
	ctx.Status(http.StatusOK)
}
