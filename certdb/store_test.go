package certdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/sqldb"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

func makeStores(t *testing.T) map[string]Store {
	backend, cleanup, err := kvdb.GetTestBackend(t.TempDir(), "certs")
	require.NoError(t, err)
	t.Cleanup(cleanup)

	kvStore, err := NewKVStore(backend)
	require.NoError(t, err)

	return map[string]Store{
		"kvdb": kvStore,
		"sql":  NewSQLStore(sqldb.NewTestDB(t)),
	}
}

func testRecord(subject, serial string, issuedAt time.Time,
	matched bool) *Record {

	status := SanctionsClear
	entity := fn.None[string]()
	if matched {
		status = SanctionsMatched
		entity = fn.Some("Listed Person")
	}

	txid := chainhash.DoubleHashH([]byte(serial))

	return &Record{
		IdentityKey: subject,
		Certificate: Certificate{
			Type:      CertificateType,
			Subject:   subject,
			Certifier: "02certifier",
			Fields: Fields{
				OfficialName:     "Jane Doe",
				ValidationMethod: "signed-authorization",
				SerialNumber:     serial,
				SanctionsStatus:  status,
				IssuedAt:         issuedAt,
				ExpiresAt:        issuedAt.Add(24 * time.Hour),
			},
			RevocationOutpoint: fn.Some(wire.OutPoint{
				Hash:  txid,
				Index: 0,
			}),
			Signature: []byte{0x30, 0x01, 0x02},
		},
		SanctionsResult: SanctionsResult{
			Checked:       true,
			Sanctioned:    matched,
			MatchedEntity: entity,
			CheckedAt:     issuedAt,
		},
		CreatedAt: issuedAt,
		UpdatedAt: issuedAt,
	}
}

// TestUpsertAndFetch checks the current pointer follows the latest upsert
// while older serials stay addressable.
func TestUpsertAndFetch(t *testing.T) {
	t.Parallel()

	for name, store := range makeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.FetchCurrent(ctx, "02subject")
			require.ErrorIs(t, err, ErrCertificateNotFound)

			first := testRecord("02subject", "serial-1", testTime, false)
			require.NoError(t, store.UpsertCertificate(ctx, first))

			current, err := store.FetchCurrent(ctx, "02subject")
			require.NoError(t, err)
			require.Equal(t, first, current)

			second := testRecord(
				"02subject", "serial-2", testTime.Add(time.Hour),
				true,
			)
			second.Certificate.RevocationOutpoint =
				fn.None[wire.OutPoint]()
			require.NoError(t, store.UpsertCertificate(ctx, second))

			current, err = store.FetchCurrent(ctx, "02subject")
			require.NoError(t, err)
			require.Equal(t, second, current)

			old, err := store.FetchBySerial(ctx, "serial-1")
			require.NoError(t, err)
			require.Equal(t, first, old)

			_, err = store.FetchBySerial(ctx, "serial-3")
			require.ErrorIs(t, err, ErrCertificateNotFound)

			err = store.UpsertCertificate(ctx, first)
			require.ErrorIs(t, err, ErrDuplicateSerial)

			list, err := store.ListBySubject(ctx, "02subject")
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "serial-2",
				list[0].Certificate.Fields.SerialNumber)
			require.Equal(t, "serial-1",
				list[1].Certificate.Fields.SerialNumber)

			list, err = store.ListBySubject(ctx, "02other")
			require.NoError(t, err)
			require.Empty(t, list)
		})
	}
}

// TestMarkRevoked checks revocation is recorded once.
func TestMarkRevoked(t *testing.T) {
	t.Parallel()

	for name, store := range makeStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			record := testRecord("02rev", "serial-r", testTime, false)
			require.NoError(t, store.UpsertCertificate(ctx, record))

			revokedAt := testTime.Add(2 * time.Hour)
			revoked, err := store.MarkRevoked(ctx, "serial-r", revokedAt)
			require.NoError(t, err)
			require.True(t, revoked.Revoked)
			require.Equal(t, revokedAt, revoked.RevokedAt.UnwrapOrFail(t))

			// A second revocation keeps the original time.
			again, err := store.MarkRevoked(
				ctx, "serial-r", revokedAt.Add(time.Hour),
			)
			require.NoError(t, err)
			require.Equal(t, revokedAt, again.RevokedAt.UnwrapOrFail(t))

			current, err := store.FetchCurrent(ctx, "02rev")
			require.NoError(t, err)
			require.True(t, current.Revoked)

			_, err = store.MarkRevoked(ctx, "missing", revokedAt)
			require.ErrorIs(t, err, ErrCertificateNotFound)
		})
	}
}

// TestDigest checks the digest ignores the signature and commits to every
// other field.
func TestDigest(t *testing.T) {
	t.Parallel()

	record := testRecord("02digest", "serial-d", testTime, false)
	cert := record.Certificate

	digest, err := cert.Digest()
	require.NoError(t, err)

	unsigned := cert
	unsigned.Signature = nil
	unsignedDigest, err := unsigned.Digest()
	require.NoError(t, err)
	require.Equal(t, digest, unsignedDigest)

	mutations := []func(c *Certificate){
		func(c *Certificate) { c.Subject = "02other" },
		func(c *Certificate) { c.Fields.OfficialName = "John Doe" },
		func(c *Certificate) { c.Fields.SerialNumber = "serial-x" },
		func(c *Certificate) {
			c.Fields.SanctionsStatus = SanctionsMatched
		},
		func(c *Certificate) {
			c.Fields.ExpiresAt = c.Fields.ExpiresAt.Add(time.Second)
		},
		func(c *Certificate) {
			c.RevocationOutpoint = fn.None[wire.OutPoint]()
		},
	}
	for i, mutate := range mutations {
		t.Run(fmt.Sprintf("mutation-%d", i), func(t *testing.T) {
			changed := cert
			mutate(&changed)

			changedDigest, err := changed.Digest()
			require.NoError(t, err)
			require.NotEqual(t, digest, changedDigest)
		})
	}
}
