package models

import "time"

// VendorAccount зеркало аккаунта продавца у платежного провайдера
type VendorAccount struct {
	VendorID          string    `json:"vendor_id"`
	ProviderAccountID string    `json:"provider_account_id"`
	ChargesEnabled    bool      `json:"charges_enabled"`
	PayoutsEnabled    bool      `json:"payouts_enabled"`
	DetailsSubmitted  bool      `json:"details_submitted"`
	UpdatedAt         time.Time `json:"updated_at"`
}
