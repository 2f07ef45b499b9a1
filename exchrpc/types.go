// Package exchrpc holds the wire types of the exchange RPC surface, the
// request signing scheme and a client for it.
package exchrpc

import "time"

// Error codes returned in ErrorResponse.
const (
	CodeValidation          = "validation_error"
	CodeInsufficientFunds   = "insufficient_funds"
	CodePaymentVerification = "payment_verification_failed"
	CodePaymentRejected     = "payment_rejected"
	CodeDuplicatePayment    = "duplicate_payment"
	CodeCertificateInvalid  = "certificate_invalid"
	CodeNotFound            = "not_found"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeRateLimited         = "rate_limited"
	CodeExternalUnavailable = "external_unavailable"
	CodeInternal            = "internal_error"
)

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Reason is set for certificate_invalid errors.
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

// Balance is an identity's balance in both currencies.
type Balance struct {
	IdentityKey string `json:"identity_key"`

	// Base is in base units.
	Base int64 `json:"base"`

	// Fiat is a decimal string.
	Fiat string `json:"fiat"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DepositRequest credits an incoming payment.
type DepositRequest struct {
	// RawPayment is the hex encoded payment transaction.
	RawPayment       string `json:"raw_payment"`
	DerivationPrefix string `json:"derivation_prefix"`
	DerivationSuffix string `json:"derivation_suffix"`

	// DeclaredAmount, if non-zero, must equal the paid amount.
	DeclaredAmount int64 `json:"declared_amount,omitempty"`

	// CertificateSerial selects the certificate to check. The current
	// certificate is used if empty.
	CertificateSerial string `json:"certificate_serial,omitempty"`
}

// DepositResponse is the outcome of a deposit.
type DepositResponse struct {
	TxID     string  `json:"txid"`
	Credited int64   `json:"credited"`
	Balance  Balance `json:"balance"`
}

// WithdrawRequest asks for a payment of base units.
type WithdrawRequest struct {
	Amount int64 `json:"amount"`
}

// WithdrawResponse carries the payment and what the requester needs to
// claim it.
type WithdrawResponse struct {
	RawPayment        string  `json:"raw_payment"`
	TxID              string  `json:"txid"`
	OutputIndex       uint32  `json:"output_index"`
	DerivationPrefix  string  `json:"derivation_prefix"`
	DerivationSuffix  string  `json:"derivation_suffix"`
	SenderIdentityKey string  `json:"sender_identity_key"`
	Balance           Balance `json:"balance"`
}

// SwapRequest converts between the currencies.
type SwapRequest struct {
	// Direction is base_to_fiat or fiat_to_base.
	Direction string `json:"direction"`

	// Amount is a decimal string in the debited currency.
	Amount string `json:"amount"`
}

// SwapResponse is the balance after a swap.
type SwapResponse struct {
	Balance Balance `json:"balance"`
}

// Leg is one side of a journal entry.
type Leg struct {
	Currency string `json:"currency"`
	Units    int64  `json:"units"`
}

// Entry is a ledger journal entry.
type Entry struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Debit     *Leg      `json:"debit,omitempty"`
	Credit    *Leg      `json:"credit,omitempty"`
	Reference string    `json:"reference,omitempty"`
	BaseAfter int64     `json:"base_after"`
	FiatAfter string    `json:"fiat_after"`
	CreatedAt time.Time `json:"created_at"`
}

// EntriesResponse lists journal entries newest first.
type EntriesResponse struct {
	Entries []Entry `json:"entries"`
}

// IssueCertificateRequest asks the exchange to certify the requester.
type IssueCertificateRequest struct {
	CertifierKey string `json:"certifier_key"`
	OfficialName string `json:"official_name"`

	// SignedAuthorization is the hex DER signature of the requester over
	// the authorization digest.
	SignedAuthorization string `json:"signed_authorization"`
}

// CertificateFields are the attested fields of a certificate.
type CertificateFields struct {
	OfficialName     string    `json:"official_name"`
	ValidationMethod string    `json:"validation_method"`
	SerialNumber     string    `json:"serial_number"`
	SanctionsStatus  string    `json:"sanctions_status"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Certificate is a signed identity certificate.
type Certificate struct {
	Type               string            `json:"type"`
	Subject            string            `json:"subject"`
	Certifier          string            `json:"certifier"`
	Fields             CertificateFields `json:"fields"`
	RevocationOutpoint string            `json:"revocation_outpoint,omitempty"`
	Signature          string            `json:"signature"`
}

// SanctionsResult is the screening outcome recorded at issuance.
type SanctionsResult struct {
	Checked       bool      `json:"checked"`
	Sanctioned    bool      `json:"sanctioned"`
	MatchedEntity string    `json:"matched_entity,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}

// IssueCertificateResponse is the issued certificate.
type IssueCertificateResponse struct {
	Certificate     Certificate     `json:"certificate"`
	SanctionsResult SanctionsResult `json:"sanctions_result"`

	// AnchorPayment is the hex revocation anchor payment, if one was
	// made.
	AnchorPayment string `json:"anchor_payment,omitempty"`
}

// CertificateStatus is a stored certificate with its revocation state.
type CertificateStatus struct {
	Certificate     Certificate     `json:"certificate"`
	SanctionsResult SanctionsResult `json:"sanctions_result"`
	Revoked         bool            `json:"revoked"`
	RevokedAt       *time.Time      `json:"revoked_at,omitempty"`
}

// IdentityResponse is the exchange's identity key.
type IdentityResponse struct {
	IdentityKey string `json:"identity_key"`
	Version     string `json:"version"`
	Network     string `json:"network"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
}
