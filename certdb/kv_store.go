package certdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// certsBySerialKey is the top level bucket holding every certificate
	// record.
	//
	// maps: serial -> tlv record
	certsBySerialKey = []byte("certs-by-serial")

	// certsCurrentKey points each subject at its current certificate.
	//
	// maps: identityKey -> serial
	certsCurrentKey = []byte("certs-current")

	// certsBySubjectKey indexes serials per subject.
	//
	// maps: identityKey -> { serial -> nil }
	certsBySubjectKey = []byte("certs-by-subject")

	errNoCertBuckets = errors.New("certificate buckets do not exist")
)

const (
	recIdentityType      tlv.Type = 0
	recCertificateType   tlv.Type = 1
	recCheckedType       tlv.Type = 2
	recSanctionedType    tlv.Type = 3
	recMatchedEntityType tlv.Type = 4
	recCheckedAtType     tlv.Type = 5
	recRevokedType       tlv.Type = 6
	recRevokedAtType     tlv.Type = 7
	recCreatedAtType     tlv.Type = 8
	recUpdatedAtType     tlv.Type = 9
)

// KVStore is a certificate Store backed by kvdb.
type KVStore struct {
	db kvdb.Backend
}

// NewKVStore creates the certificate buckets and returns the store.
func NewKVStore(db kvdb.Backend) (*KVStore, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		for _, key := range [][]byte{
			certsBySerialKey, certsCurrentKey, certsBySubjectKey,
		} {
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}

		return nil
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create certificate "+
			"buckets: %w", err)
	}

	return &KVStore{db: db}, nil
}

// UpsertCertificate stores the record and makes it current for its subject.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) UpsertCertificate(_ context.Context, r *Record) error {
	serial := []byte(r.Certificate.Fields.SerialNumber)
	if len(serial) == 0 {
		return fmt.Errorf("certificate has no serial number")
	}

	var buf bytes.Buffer
	if err := serializeRecord(&buf, r); err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bySerial := tx.ReadWriteBucket(certsBySerialKey)
		current := tx.ReadWriteBucket(certsCurrentKey)
		bySubject := tx.ReadWriteBucket(certsBySubjectKey)
		if bySerial == nil || current == nil || bySubject == nil {
			return errNoCertBuckets
		}

		if bySerial.Get(serial) != nil {
			return ErrDuplicateSerial
		}

		if err := bySerial.Put(serial, buf.Bytes()); err != nil {
			return err
		}

		identity := []byte(r.IdentityKey)
		if err := current.Put(identity, serial); err != nil {
			return err
		}

		subjectSerials, err := bySubject.CreateBucketIfNotExists(
			identity,
		)
		if err != nil {
			return err
		}

		return subjectSerials.Put(serial, []byte{})
	}, func() {})
}

// FetchCurrent returns the subject's current certificate.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) FetchCurrent(_ context.Context,
	identityKey string) (*Record, error) {

	var record *Record
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bySerial := tx.ReadBucket(certsBySerialKey)
		current := tx.ReadBucket(certsCurrentKey)
		if bySerial == nil || current == nil {
			return errNoCertBuckets
		}

		serial := current.Get([]byte(identityKey))
		if serial == nil {
			return ErrCertificateNotFound
		}

		var err error
		record, err = fetchRecord(bySerial, serial)

		return err
	}, func() {
		record = nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// FetchBySerial returns the certificate with the serial number.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) FetchBySerial(_ context.Context,
	serial string) (*Record, error) {

	var record *Record
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bySerial := tx.ReadBucket(certsBySerialKey)
		if bySerial == nil {
			return errNoCertBuckets
		}

		var err error
		record, err = fetchRecord(bySerial, []byte(serial))

		return err
	}, func() {
		record = nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// MarkRevoked sets the revoked flag once.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) MarkRevoked(_ context.Context, serial string,
	revokedAt time.Time) (*Record, error) {

	var record *Record
	err := kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bySerial := tx.ReadWriteBucket(certsBySerialKey)
		if bySerial == nil {
			return errNoCertBuckets
		}

		var err error
		record, err = fetchRecord(bySerial, []byte(serial))
		if err != nil {
			return err
		}

		if record.Revoked {
			return nil
		}

		record.Revoked = true
		record.RevokedAt = fn.Some(revokedAt.UTC())
		record.UpdatedAt = revokedAt.UTC()

		var buf bytes.Buffer
		if err := serializeRecord(&buf, record); err != nil {
			return err
		}

		return bySerial.Put([]byte(serial), buf.Bytes())
	}, func() {
		record = nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListBySubject returns all certificates of the subject, newest first.
//
// NOTE: This is part of the Store interface.
func (s *KVStore) ListBySubject(_ context.Context,
	identityKey string) ([]*Record, error) {

	var records []*Record
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bySerial := tx.ReadBucket(certsBySerialKey)
		bySubject := tx.ReadBucket(certsBySubjectKey)
		if bySerial == nil || bySubject == nil {
			return errNoCertBuckets
		}

		serials := bySubject.NestedReadBucket([]byte(identityKey))
		if serials == nil {
			return nil
		}

		return serials.ForEach(func(serial, _ []byte) error {
			record, err := fetchRecord(bySerial, serial)
			if err != nil {
				return err
			}

			records = append(records, record)

			return nil
		})
	}, func() {
		records = nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Certificate.Fields.IssuedAt.After(
			records[j].Certificate.Fields.IssuedAt,
		)
	})

	return records, nil
}

func fetchRecord(bySerial kvdb.RBucket, serial []byte) (*Record, error) {
	raw := bySerial.Get(serial)
	if raw == nil {
		return nil, ErrCertificateNotFound
	}

	return deserializeRecord(bytes.NewReader(raw))
}

// serializeRecord writes the record, embedding the certificate as its own
// tlv stream.
func serializeRecord(w *bytes.Buffer, r *Record) error {
	var certBuf bytes.Buffer
	if err := encodeCertificate(&certBuf, &r.Certificate, true); err != nil {
		return err
	}

	var (
		identity   = []byte(r.IdentityKey)
		certBytes  = certBuf.Bytes()
		checked    = r.SanctionsResult.Checked
		sanctioned = r.SanctionsResult.Sanctioned
		checkedAt  = uint64(r.SanctionsResult.CheckedAt.UnixNano())
		revoked    = r.Revoked
		createdAt  = uint64(r.CreatedAt.UnixNano())
		updatedAt  = uint64(r.UpdatedAt.UnixNano())
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(recIdentityType, &identity),
		tlv.MakePrimitiveRecord(recCertificateType, &certBytes),
		tlv.MakePrimitiveRecord(recCheckedType, &checked),
		tlv.MakePrimitiveRecord(recSanctionedType, &sanctioned),
	}

	r.SanctionsResult.MatchedEntity.WhenSome(func(entity string) {
		entityBytes := []byte(entity)
		records = append(records, tlv.MakePrimitiveRecord(
			recMatchedEntityType, &entityBytes,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(recCheckedAtType, &checkedAt),
		tlv.MakePrimitiveRecord(recRevokedType, &revoked),
	)

	r.RevokedAt.WhenSome(func(at time.Time) {
		revokedAt := uint64(at.UnixNano())
		records = append(records, tlv.MakePrimitiveRecord(
			recRevokedAtType, &revokedAt,
		))
	})

	records = append(records,
		tlv.MakePrimitiveRecord(recCreatedAtType, &createdAt),
		tlv.MakePrimitiveRecord(recUpdatedAtType, &updatedAt),
	)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func deserializeRecord(r *bytes.Reader) (*Record, error) {
	var (
		identity, certBytes, entity []byte
		checked, sanctioned         bool
		revoked                     bool
		checkedAt, revokedAt        uint64
		createdAt, updatedAt        uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(recIdentityType, &identity),
		tlv.MakePrimitiveRecord(recCertificateType, &certBytes),
		tlv.MakePrimitiveRecord(recCheckedType, &checked),
		tlv.MakePrimitiveRecord(recSanctionedType, &sanctioned),
		tlv.MakePrimitiveRecord(recMatchedEntityType, &entity),
		tlv.MakePrimitiveRecord(recCheckedAtType, &checkedAt),
		tlv.MakePrimitiveRecord(recRevokedType, &revoked),
		tlv.MakePrimitiveRecord(recRevokedAtType, &revokedAt),
		tlv.MakePrimitiveRecord(recCreatedAtType, &createdAt),
		tlv.MakePrimitiveRecord(recUpdatedAtType, &updatedAt),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, err
	}

	cert, err := decodeCertificate(certBytes)
	if err != nil {
		return nil, err
	}

	record := &Record{
		IdentityKey: string(identity),
		Certificate: *cert,
		SanctionsResult: SanctionsResult{
			Checked:    checked,
			Sanctioned: sanctioned,
			CheckedAt:  time.Unix(0, int64(checkedAt)).UTC(),
		},
		Revoked:   revoked,
		CreatedAt: time.Unix(0, int64(createdAt)).UTC(),
		UpdatedAt: time.Unix(0, int64(updatedAt)).UTC(),
	}

	if _, ok := parsed[recMatchedEntityType]; ok {
		record.SanctionsResult.MatchedEntity = fn.Some(string(entity))
	}
	if _, ok := parsed[recRevokedAtType]; ok {
		record.RevokedAt = fn.Some(
			time.Unix(0, int64(revokedAt)).UTC(),
		)
	}

	return record, nil
}

// A compile-time assertion to ensure KVStore implements the Store interface.
var _ Store = (*KVStore)(nil)
