package certdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/sqldb"
	"github.com/exchangelabs/exchanged/sqldb/sqlc"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SQLQueries is the subset of the sqlc queries the certificate store needs.
type SQLQueries interface {
	GetCertificateBySerial(ctx context.Context,
		serialNumber string) (sqlc.Certificate, error)

	GetCurrentCertificate(ctx context.Context,
		identityKey string) (sqlc.Certificate, error)

	InsertCertificate(ctx context.Context,
		arg sqlc.InsertCertificateParams) error

	ListCertificatesBySubject(ctx context.Context,
		identityKey string) ([]sqlc.Certificate, error)

	MarkCertificateRevoked(ctx context.Context,
		arg sqlc.MarkCertificateRevokedParams) (int64, error)

	UpsertCurrentCertificate(ctx context.Context,
		arg sqlc.UpsertCurrentCertificateParams) error
}

// BatchedSQLQueries is a version of SQLQueries that is capable of batched
// database operations.
type BatchedSQLQueries interface {
	SQLQueries

	sqldb.BatchedTx[SQLQueries]
}

// SQLStore is a certificate Store backed by Postgres or SQLite.
type SQLStore struct {
	db BatchedSQLQueries
}

// NewSQLStore creates a certificate store on top of the SQL database.
func NewSQLStore(db *sqldb.BaseDB) *SQLStore {
	executor := sqldb.NewTransactionExecutor(
		db, func(tx *sql.Tx) SQLQueries {
			return db.WithTx(tx)
		},
	)

	return &SQLStore{
		db: &sqlBatchedQueries{
			SQLQueries:          db,
			TransactionExecutor: executor,
		},
	}
}

type sqlBatchedQueries struct {
	SQLQueries

	*sqldb.TransactionExecutor[SQLQueries]
}

// UpsertCertificate inserts the certificate and points the subject at it.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) UpsertCertificate(ctx context.Context, r *Record) error {
	cert := &r.Certificate
	params := sqlc.InsertCertificateParams{
		SerialNumber:       cert.Fields.SerialNumber,
		IdentityKey:        r.IdentityKey,
		CertifierKey:       cert.Certifier,
		CertType:           cert.Type,
		OfficialName:       cert.Fields.OfficialName,
		ValidationMethod:   cert.Fields.ValidationMethod,
		SanctionsStatus:    string(cert.Fields.SanctionsStatus),
		SanctionsChecked:   r.SanctionsResult.Checked,
		SanctionsCheckedAt: r.SanctionsResult.CheckedAt.UTC(),
		IssuedAt:           cert.Fields.IssuedAt.UTC(),
		ExpiresAt:          cert.Fields.ExpiresAt.UTC(),
		Signature:          cert.Signature,
		Revoked:            r.Revoked,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	r.SanctionsResult.MatchedEntity.WhenSome(func(entity string) {
		params.MatchedEntity = sqldb.SQLStr(entity)
	})
	cert.RevocationOutpoint.WhenSome(func(op wire.OutPoint) {
		params.RevocationOutpoint = sqldb.SQLStr(op.String())
	})
	r.RevokedAt.WhenSome(func(at time.Time) {
		params.RevokedAt = sqldb.SQLTime(at)
	})

	return s.db.ExecTx(ctx, sqldb.WriteTxOpt(), func(db SQLQueries) error {
		err := db.InsertCertificate(ctx, params)
		if err != nil {
			dbErr := sqldb.MapSQLError(err)
			if sqldb.IsUniqueConstraintViolation(dbErr) {
				return ErrDuplicateSerial
			}

			return dbErr
		}

		return db.UpsertCurrentCertificate(
			ctx, sqlc.UpsertCurrentCertificateParams{
				IdentityKey:  r.IdentityKey,
				SerialNumber: cert.Fields.SerialNumber,
				UpdatedAt:    r.UpdatedAt.UTC(),
			},
		)
	}, func() {})
}

// FetchCurrent returns the subject's current certificate.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) FetchCurrent(ctx context.Context,
	identityKey string) (*Record, error) {

	row, err := s.db.GetCurrentCertificate(ctx, identityKey)
	if err != nil {
		return nil, mapNotFound(err)
	}

	return recordFromRow(row)
}

// FetchBySerial returns the certificate with the serial number.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) FetchBySerial(ctx context.Context,
	serial string) (*Record, error) {

	row, err := s.db.GetCertificateBySerial(ctx, serial)
	if err != nil {
		return nil, mapNotFound(err)
	}

	return recordFromRow(row)
}

// MarkRevoked sets the revoked flag once and returns the stored record.
//
// NOTE: This is part of the Store interface.
func (s *SQLStore) MarkRevoked(ctx context.Context, serial string,
	revokedAt time.Time) (*Record, error) {

	var record *Record
	err := s.db.ExecTx(ctx, sqldb.WriteTxOpt(), func(db SQLQueries) error {
		// A zero row count either means the certificate is already
		// revoked or does not exist, the fetch below tells which.
		_, err := db.MarkCertificateRevoked(
			ctx, sqlc.MarkCertificateRevokedParams{
				SerialNumber: serial,
				RevokedAt:    sqldb.SQLTime(revokedAt),
			},
		)
		if err != nil {
			return err
		}

		row, err := db.GetCertificateBySerial(ctx, serial)
		if err != nil {
			return mapNotFound(err)
		}

		record, err = recordFromRow(row)

		return err
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
func (s *SQLStore) ListBySubject(ctx context.Context,
	identityKey string) ([]*Record, error) {

	rows, err := s.db.ListCertificatesBySubject(ctx, identityKey)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		record, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCertificateNotFound
	}

	return err
}

func recordFromRow(row sqlc.Certificate) (*Record, error) {
	record := &Record{
		IdentityKey: row.IdentityKey,
		Certificate: Certificate{
			Type:      row.CertType,
			Subject:   row.IdentityKey,
			Certifier: row.CertifierKey,
			Fields: Fields{
				OfficialName:     row.OfficialName,
				ValidationMethod: row.ValidationMethod,
				SerialNumber:     row.SerialNumber,
				SanctionsStatus: SanctionsStatus(
					row.SanctionsStatus,
				),
				IssuedAt:  row.IssuedAt.UTC(),
				ExpiresAt: row.ExpiresAt.UTC(),
			},
			Signature: row.Signature,
		},
		SanctionsResult: SanctionsResult{
			Checked: row.SanctionsChecked,
			Sanctioned: row.SanctionsStatus ==
				string(SanctionsMatched),
			CheckedAt: row.SanctionsCheckedAt.UTC(),
		},
		Revoked:   row.Revoked,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}

	if row.MatchedEntity.Valid {
		record.SanctionsResult.MatchedEntity = fn.Some(
			row.MatchedEntity.String,
		)
	}
	if row.RevocationOutpoint.Valid {
		op, err := wire.NewOutPointFromString(
			row.RevocationOutpoint.String,
		)
		if err != nil {
			return nil, fmt.Errorf("invalid revocation outpoint "+
				"for %v: %w", row.SerialNumber, err)
		}
		record.Certificate.RevocationOutpoint = fn.Some(*op)
	}
	if row.RevokedAt.Valid {
		record.RevokedAt = fn.Some(row.RevokedAt.Time.UTC())
	}

	return record, nil
}

// A compile-time assertion to ensure SQLStore implements the Store interface.
var _ Store = (*SQLStore)(nil)
