package logic

import "fmt"

// DomainError is a rejection with a stable machine-readable code. The API
// layer maps codes onto HTTP statuses; services never retry these.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrCampaignNotFound   = &DomainError{Code: "CAMPAIGN_NOT_FOUND", Message: "Campaign not found"}
	ErrCampaignNotStarted = &DomainError{Code: "CAMPAIGN_NOT_STARTED", Message: "Campaign has not started yet"}
	ErrCampaignEnded      = &DomainError{Code: "CAMPAIGN_ENDED", Message: "Campaign has ended"}
	ErrPriceTooLow        = &DomainError{Code: "PRICE_TOO_LOW", Message: "Price is below the minimum acceptable price"}
	ErrProductNotFound    = &DomainError{Code: "PRODUCT_NOT_FOUND", Message: "Product not found"}
	ErrInvalidCredentials = &DomainError{Code: "INVALID_CREDENTIALS", Message: "Invalid email or password"}
	ErrEmailTaken         = &DomainError{Code: "EMAIL_TAKEN", Message: "Email already registered"}
	ErrAdminRequired      = &DomainError{Code: "ADMIN_REQUIRED", Message: "Admin privileges required"}

	// Concurrency outcomes internal to the inventory primitive.
	ErrLocked              = &DomainError{Code: "LOCKED", Message: "Product is locked by another settlement"}
	ErrInsufficientStock   = &DomainError{Code: "INSUFFICIENT_STOCK", Message: "Product has no stock"}
	ErrConcurrencyConflict = &DomainError{Code: "CONCURRENCY_CONFLICT", Message: "Concurrent stock update conflict"}
)
