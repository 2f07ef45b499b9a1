package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/kvdb"
)

var (
	// balanceBucketKey is the top level bucket holding every balance.
	//
	// maps: identityKey -> tlv balance
	balanceBucketKey = []byte("ledger-balances")

	// entriesBucketKey is the top level bucket holding one nested bucket
	// of journal entries per identity.
	//
	// maps: identityKey -> { entryID -> tlv entry }
	entriesBucketKey = []byte("ledger-entries")

	// referenceBucketKey indexes journal entries by their reference.
	//
	// maps: reference -> identityKey || entryID
	referenceBucketKey = []byte("ledger-references")

	byteOrder = binary.BigEndian

	errNoLedgerBuckets = errors.New("ledger buckets do not exist")
)

// KVStore is a Store backed by a kvdb backend. Write transactions on the
// backend are serialized, which makes every ApplyMutation a single atomic
// read-modify-write.
type KVStore struct {
	db kvdb.Backend
}

// NewKVStore creates the ledger buckets if needed and returns a store using
// the backend.
func NewKVStore(db kvdb.Backend) (*KVStore, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		for _, key := range [][]byte{
			balanceBucketKey, entriesBucketKey, referenceBucketKey,
		} {
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create ledger buckets: %w",
			err)
	}

	return &KVStore{db: db}, nil
}

// FetchBalance returns the balance for the identity, or a zero balance if it
// has never been credited.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) FetchBalance(_ context.Context,
	identityKey string) (*Balance, error) {

	var balance *Balance
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		balances := tx.ReadBucket(balanceBucketKey)
		if balances == nil {
			return errNoLedgerBuckets
		}

		var err error
		balance, err = readBalance(balances, identityKey)

		return err
	}, func() {
		balance = nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// ApplyMutation applies the mutation and appends its journal entry in one
// write transaction.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) ApplyMutation(_ context.Context,
	m *Mutation) (*Balance, error) {

	if err := m.validate(); err != nil {
		return nil, err
	}

	var balance *Balance
	err := kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		balances := tx.ReadWriteBucket(balanceBucketKey)
		entries := tx.ReadWriteBucket(entriesBucketKey)
		references := tx.ReadWriteBucket(referenceBucketKey)
		if balances == nil || entries == nil || references == nil {
			return errNoLedgerBuckets
		}

		var refKey []byte
		m.Reference.WhenSome(func(ref string) {
			refKey = []byte(ref)
		})
		if refKey != nil && references.Get(refKey) != nil {
			return ErrDuplicateReference
		}

		var err error
		balance, err = readBalance(balances, m.IdentityKey)
		if err != nil {
			return err
		}

		// The guard is evaluated against the balance read inside this
		// transaction, so no other writer can interleave.
		if err := m.apply(balance); err != nil {
			return err
		}

		balanceBytes, err := encodeBalance(balance)
		if err != nil {
			return err
		}
		err = balances.Put([]byte(m.IdentityKey), balanceBytes)
		if err != nil {
			return err
		}

		userEntries, err := entries.CreateBucketIfNotExists(
			[]byte(m.IdentityKey),
		)
		if err != nil {
			return err
		}

		// Sequence numbers are taken from the top level bucket so
		// entry ids are unique across identities.
		id, err := entries.NextSequence()
		if err != nil {
			return err
		}

		entry := &Entry{
			ID:          id,
			IdentityKey: m.IdentityKey,
			Kind:        m.Kind,
			Debit:       m.Debit,
			Credit:      m.Credit,
			Reference:   m.Reference,
			BaseAfter:   balance.BaseUnits,
			FiatAfter:   balance.FiatUnits,
			CreatedAt:   m.Timestamp,
		}

		var entryBuf bytes.Buffer
		if err := serializeEntry(&entryBuf, entry); err != nil {
			return err
		}

		var idKey [8]byte
		byteOrder.PutUint64(idKey[:], id)
		if err := userEntries.Put(idKey[:], entryBuf.Bytes()); err != nil {
			return err
		}

		if refKey == nil {
			return nil
		}

		refValue := make([]byte, 0, len(m.IdentityKey)+8)
		refValue = append(refValue, idKey[:]...)
		refValue = append(refValue, m.IdentityKey...)

		return references.Put(refKey, refValue)
	}, func() {
		balance = nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// FetchEntryByReference looks up the journal entry with the given reference.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) FetchEntryByReference(_ context.Context,
	reference string) (*Entry, error) {

	var entry *Entry
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		references := tx.ReadBucket(referenceBucketKey)
		entries := tx.ReadBucket(entriesBucketKey)
		if references == nil || entries == nil {
			return errNoLedgerBuckets
		}

		refValue := references.Get([]byte(reference))
		if len(refValue) < 8 {
			return ErrEntryNotFound
		}

		idKey, identityKey := refValue[:8], refValue[8:]
		userEntries := entries.NestedReadBucket(identityKey)
		if userEntries == nil {
			return ErrEntryNotFound
		}

		entryBytes := userEntries.Get(idKey)
		if entryBytes == nil {
			return ErrEntryNotFound
		}

		var err error
		entry, err = deserializeEntry(
			byteOrder.Uint64(idKey), bytes.NewReader(entryBytes),
		)

		return err
	}, func() {
		entry = nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// FetchEntries returns up to limit entries of the identity, newest first.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) FetchEntries(_ context.Context, identityKey string,
	limit uint32) ([]*Entry, error) {

	var result []*Entry
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		entries := tx.ReadBucket(entriesBucketKey)
		if entries == nil {
			return errNoLedgerBuckets
		}

		userEntries := entries.NestedReadBucket([]byte(identityKey))
		if userEntries == nil {
			return nil
		}

		cursor := userEntries.ReadCursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if limit > 0 && uint32(len(result)) >= limit {
				break
			}

			entry, err := deserializeEntry(
				byteOrder.Uint64(k), bytes.NewReader(v),
			)
			if err != nil {
				return err
			}

			result = append(result, entry)
		}

		return nil
	}, func() {
		result = nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// readBalance decodes the stored balance or returns a zero balance.
func readBalance(balances kvdb.RBucket, identityKey string) (*Balance,
	error) {

	raw := balances.Get([]byte(identityKey))
	if raw == nil {
		return &Balance{IdentityKey: identityKey}, nil
	}

	return deserializeBalance(identityKey, bytes.NewReader(raw))
}

// A compile-time assertion to ensure KVStore implements the Store interface.
var _ Store = (*KVStore)(nil)
