package model

type TokenKind string

const (
	TokenKindCode TokenKind = "code"
	TokenKindSync TokenKind = "sync"
)

// PairingStatus is the state a polling client observes for a pairing token.
type PairingStatus string

const (
	PairingStatusInvalid   PairingStatus = "invalid"
	PairingStatusExpired   PairingStatus = "expired"
	PairingStatusPending   PairingStatus = "pending"
	PairingStatusConfirmed PairingStatus = "confirmed"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusAuthorized SubscriptionStatus = "authorized"
	SubscriptionStatusPending    SubscriptionStatus = "pending"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusInactive   SubscriptionStatus = "inactive"
)

// Usable reports whether the subscription permits new device pairing.
// Existing paired devices keep functioning regardless; grace-period
// handling lives in the dashboard, not here.
func (s SubscriptionStatus) Usable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusAuthorized
}

type BillingProvider string

const (
	ProviderMercadoPago BillingProvider = "mercadopago"
	ProviderStripe      BillingProvider = "stripe"
)

type CommandStatus string

const (
	CommandStatusPending CommandStatus = "pending"
	CommandStatusAcked   CommandStatus = "acked"
)
