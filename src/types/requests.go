package types

import "time"

type SimpleRequestParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type RefundRule struct {
	HoursBeforeStart int64      `json:"hours_before_start" binding:"min=0"`
	RefundBps        Percentage `json:"refund_bps" binding:"min=0,max=10000"`
}

type CreateBookingRequestBody struct {
	ListingID  string    `json:"listing_id" binding:"required"`
	StartDate  time.Time `json:"start_date" binding:"required"`
	EndDate    time.Time `json:"end_date" binding:"required,gtfield=StartDate,daterange=365"`
	GuestCount int       `json:"guest_count" binding:"required,min=1"`
	Message    string    `json:"message,omitempty" binding:"omitempty,max=2000"`
}

type PayBookingRequestBody struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

type DepositRequestBody struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

type ConfirmPaymentRequestBody struct {
	PaymentReference string `json:"payment_reference" binding:"required"`
}

type InspectionRequestBody struct {
	HasIssues     bool   `json:"has_issues"`
	Notes         string `json:"notes,omitempty" binding:"omitempty,max=4000"`
	ClaimedAmount Money  `json:"claimed_amount,omitempty" binding:"omitempty,min=0"`
}

type CancelBookingRequestBody struct {
	Reason           string `json:"reason" binding:"required,max=1000"`
	DepositDeduction Money  `json:"deposit_deduction,omitempty" binding:"omitempty,min=0"`
}

type OpenDisputeRequestBody struct {
	Type              DisputeType     `json:"type" binding:"required,oneof=PROPERTY_DAMAGE MISSING_ITEMS CONDITION_MISMATCH REFUND_REQUEST PAYMENT_ISSUE LATE_RETURN OTHER INSPECTION_ISSUES"`
	Title             string          `json:"title" binding:"required,max=200"`
	Description       string          `json:"description" binding:"required,max=4000"`
	Amount            Money           `json:"amount,omitempty" binding:"omitempty,min=0"`
	Priority          DisputePriority `json:"priority,omitempty" binding:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	ConditionReportID string          `json:"condition_report_id,omitempty" binding:"omitempty,uuid"`
}

type DisputeStatusRequestBody struct {
	Status DisputeStatus `json:"status" binding:"required,oneof=UNDER_REVIEW INVESTIGATING AWAITING_RESPONSE IN_MEDIATION"`
	Note   string        `json:"note,omitempty"`
}

type DisputeCommentRequestBody struct {
	Message string `json:"message" binding:"required,max=4000"`
}

type CloseDisputeRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

type ResolveDisputeRequestBody struct {
	Outcome          DisputeOutcome `json:"outcome" binding:"required,oneof=RESOLVED_INITIATOR_FAVOR RESOLVED_RESPONDENT_FAVOR RESOLVED_SPLIT NO_ACTION BOOKING_CANCELLED"`
	RefundAmount     Money          `json:"refund_amount" binding:"min=0"`
	PayoutAdjustment Money          `json:"payout_adjustment"`
	DepositAction    DepositAction  `json:"deposit_action,omitempty" binding:"omitempty,oneof=CAPTURE RELEASE"`
	DepositDeduction Money          `json:"deposit_deduction,omitempty" binding:"omitempty,min=0"`
	Notes            string         `json:"notes,omitempty"`
}

type CreatePolicyRequestBody struct {
	Name        string       `json:"name" binding:"required,max=100"`
	Description string       `json:"description,omitempty"`
	Rules       []RefundRule `json:"rules" binding:"required,min=1,dive"`
}

type SettlementRequestBody struct {
	ReferenceID string `json:"reference_id" binding:"required"`
}

type OwnerRequestParams struct {
	ID string `uri:"id" binding:"required"`
}

type BookingListQuery struct {
	As     string        `form:"as" binding:"omitempty,oneof=renter owner"`
	Status BookingStatus `form:"status"`
	Limit  int           `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int           `form:"offset" binding:"omitempty,min=0"`
}

type ReverseRequestBody struct {
	ReferenceID string `json:"reference_id" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}
