package ledger

import (
	"bytes"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	balanceBaseType      tlv.Type = 0
	balanceFiatType      tlv.Type = 1
	balanceUpdatedAtType tlv.Type = 2

	entryIdentityType       tlv.Type = 0
	entryKindType           tlv.Type = 1
	entryDebitCurrencyType  tlv.Type = 2
	entryDebitAmountType    tlv.Type = 3
	entryCreditCurrencyType tlv.Type = 4
	entryCreditAmountType   tlv.Type = 5
	entryReferenceType      tlv.Type = 6
	entryBaseAfterType      tlv.Type = 7
	entryFiatAfterType      tlv.Type = 8
	entryCreatedAtType      tlv.Type = 9
)

// serializeBalance writes the balance amounts and timestamp as a tlv stream.
// The identity key is the bucket key and is not repeated.
func serializeBalance(w io.Writer, b *Balance) error {
	base := uint64(b.BaseUnits)
	fiat := uint64(b.FiatUnits)
	updatedAt := uint64(b.UpdatedAt.UnixNano())

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(balanceBaseType, &base),
		tlv.MakePrimitiveRecord(balanceFiatType, &fiat),
		tlv.MakePrimitiveRecord(balanceUpdatedAtType, &updatedAt),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// deserializeBalance reads a balance written by serializeBalance.
func deserializeBalance(identityKey string, r io.Reader) (*Balance, error) {
	var base, fiat, updatedAt uint64

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(balanceBaseType, &base),
		tlv.MakePrimitiveRecord(balanceFiatType, &fiat),
		tlv.MakePrimitiveRecord(balanceUpdatedAtType, &updatedAt),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	return &Balance{
		IdentityKey: identityKey,
		BaseUnits:   Units(base),
		FiatUnits:   Units(fiat),
		UpdatedAt:   time.Unix(0, int64(updatedAt)).UTC(),
	}, nil
}

// serializeEntry encodes a journal entry. Absent legs and references are left
// out of the stream entirely.
func serializeEntry(w io.Writer, e *Entry) error {
	var (
		identity  = []byte(e.IdentityKey)
		kind      = uint8(e.Kind)
		baseAfter = uint64(e.BaseAfter)
		fiatAfter = uint64(e.FiatAfter)
		createdAt = uint64(e.CreatedAt.UnixNano())
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(entryIdentityType, &identity),
		tlv.MakePrimitiveRecord(entryKindType, &kind),
	}

	e.Debit.WhenSome(func(l Leg) {
		currency := uint8(l.Currency)
		amount := uint64(l.Amount)
		records = append(records,
			tlv.MakePrimitiveRecord(entryDebitCurrencyType, &currency),
			tlv.MakePrimitiveRecord(entryDebitAmountType, &amount),
		)
	})

	e.Credit.WhenSome(func(l Leg) {
		currency := uint8(l.Currency)
		amount := uint64(l.Amount)
		records = append(records,
			tlv.MakePrimitiveRecord(
				entryCreditCurrencyType, &currency,
			),
			tlv.MakePrimitiveRecord(entryCreditAmountType, &amount),
		)
	})

	e.Reference.WhenSome(func(ref string) {
		refBytes := []byte(ref)
		records = append(records,
			tlv.MakePrimitiveRecord(entryReferenceType, &refBytes),
		)
	})

	records = append(records,
		tlv.MakePrimitiveRecord(entryBaseAfterType, &baseAfter),
		tlv.MakePrimitiveRecord(entryFiatAfterType, &fiatAfter),
		tlv.MakePrimitiveRecord(entryCreatedAtType, &createdAt),
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// deserializeEntry decodes a journal entry stored under the given id.
func deserializeEntry(id uint64, r io.Reader) (*Entry, error) {
	var (
		identity                       []byte
		kind                           uint8
		debitCurrency, creditCurrency  uint8
		debitAmount, creditAmount      uint64
		reference                      []byte
		baseAfter, fiatAfter, creation uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(entryIdentityType, &identity),
		tlv.MakePrimitiveRecord(entryKindType, &kind),
		tlv.MakePrimitiveRecord(entryDebitCurrencyType, &debitCurrency),
		tlv.MakePrimitiveRecord(entryDebitAmountType, &debitAmount),
		tlv.MakePrimitiveRecord(
			entryCreditCurrencyType, &creditCurrency,
		),
		tlv.MakePrimitiveRecord(entryCreditAmountType, &creditAmount),
		tlv.MakePrimitiveRecord(entryReferenceType, &reference),
		tlv.MakePrimitiveRecord(entryBaseAfterType, &baseAfter),
		tlv.MakePrimitiveRecord(entryFiatAfterType, &fiatAfter),
		tlv.MakePrimitiveRecord(entryCreatedAtType, &creation),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:          id,
		IdentityKey: string(identity),
		Kind:        EntryKind(kind),
		BaseAfter:   Units(baseAfter),
		FiatAfter:   Units(fiatAfter),
		CreatedAt:   time.Unix(0, int64(creation)).UTC(),
	}

	if _, ok := parsed[entryDebitAmountType]; ok {
		entry.Debit = fn.Some(Leg{
			Currency: Currency(debitCurrency),
			Amount:   Units(debitAmount),
		})
	}
	if _, ok := parsed[entryCreditAmountType]; ok {
		entry.Credit = fn.Some(Leg{
			Currency: Currency(creditCurrency),
			Amount:   Units(creditAmount),
		})
	}
	if _, ok := parsed[entryReferenceType]; ok {
		entry.Reference = fn.Some(string(reference))
	}

	return entry, nil
}

// encodeBalance is a convenience wrapper returning the serialized bytes.
func encodeBalance(b *Balance) ([]byte, error) {
	var buf bytes.Buffer
	if err := serializeBalance(&buf, b); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
