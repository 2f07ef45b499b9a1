package wallet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/exchangelabs/exchanged/keychain"
)

// ErrUnavailable is returned when the wallet cannot be reached. Callers treat
// it as an external failure of the current request only.
var ErrUnavailable = errors.New("wallet unavailable")

// Output is one output of a payment the wallet is asked to build.
type Output struct {
	// PkScript is the locking script of the output.
	PkScript []byte

	// Amount is the value of the output in base units.
	Amount btcutil.Amount

	// Description is a human readable note stored with the output.
	Description string
}

// PaymentRequest describes a payment the wallet should fund, sign and
// return.
type PaymentRequest struct {
	Description string
	Outputs     []Output
	Labels      []string
}

// Payment is a signed payment built by the wallet.
type Payment struct {
	// RawPayment is the serialized transaction.
	RawPayment []byte

	TxID chainhash.Hash
}

// Remittance carries what the recipient of a payment needs to derive the key
// that unlocks it.
type Remittance struct {
	DerivationPrefix  string
	DerivationSuffix  string
	SenderIdentityKey *btcec.PublicKey

	// OutputIndex is the output of the payment the remittance applies to.
	OutputIndex uint32
}

// InternalizeRequest asks the wallet to take ownership of an incoming
// payment.
type InternalizeRequest struct {
	RawPayment  []byte
	Remittance  Remittance
	Description string
	Labels      []string
}

// InternalizeResult is the wallet's answer to an InternalizeRequest.
type InternalizeResult struct {
	Accepted bool
	TxID     chainhash.Hash
}

// Action is a payment the wallet has built or internalized.
type Action struct {
	TxID        chainhash.Hash
	Description string
	Labels      []string
	Amount      btcutil.Amount
	Status      string
}

// Capability is the wallet that performs every private key operation for
// the exchange. It is external to the exchange core.
type Capability interface {
	// GetIdentityKey returns the exchange's long lived identity key.
	GetIdentityKey(ctx context.Context) (*btcec.PublicKey, error)

	// DerivePublicKey derives a child key under the protocol and key id
	// with the counterparty. With forSelf set the key belongs to the
	// wallet, otherwise to the counterparty.
	DerivePublicKey(ctx context.Context, protocol keychain.Protocol,
		keyID string, counterparty *btcec.PublicKey,
		forSelf bool) (*btcec.PublicKey, error)

	// CreatePayment funds and signs a payment with the given outputs.
	CreatePayment(ctx context.Context, req *PaymentRequest) (*Payment,
		error)

	// InternalizePayment takes ownership of an incoming payment.
	InternalizePayment(ctx context.Context,
		req *InternalizeRequest) (*InternalizeResult, error)

	// ListLabeledActions lists up to limit actions carrying all labels.
	ListLabeledActions(ctx context.Context, labels []string,
		limit uint32) ([]Action, error)

	// CreateSignature signs the digest with the identity key and returns
	// a DER encoded signature.
	CreateSignature(ctx context.Context, digest [32]byte) ([]byte, error)
}
