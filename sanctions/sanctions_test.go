package sanctions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const testList = `# name, aliases...
Ivan Petrov, "Petrov, Ivan", I. Petrov
José Álvarez Müller
Acme Shell Holdings Ltd.
`

// TestNormalize checks the comparison form of names.
func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"John Doe", "john doe"},
		{"  JOHN   doe ", "john doe"},
		{"José Álvarez-Müller", "jose alvarez muller"},
		{"Straße", "strasse"},
		{"O'Brien, Pat.", "o brien pat"},
		{"", ""},
		{"...", ""},
	}
	for _, test := range tests {
		require.Equal(t, test.want, Normalize(test.in), test.in)
	}
}

// TestListScreener checks names, aliases and word order match.
func TestListScreener(t *testing.T) {
	t.Parallel()

	s, err := NewListScreenerFromReader(strings.NewReader(testList))
	require.NoError(t, err)

	ctx := context.Background()
	tests := []struct {
		name   string
		entity fn.Option[string]
	}{
		{"Ivan Petrov", fn.Some("Ivan Petrov")},
		{"petrov ivan", fn.Some("Ivan Petrov")},
		{"I. Petrov", fn.Some("Ivan Petrov")},
		{"Jose Alvarez Muller", fn.Some("José Álvarez Müller")},
		{"ACME shell holdings LTD", fn.Some("Acme Shell Holdings Ltd.")},
		{"Alice Example", fn.None[string]()},
		{"Ivan", fn.None[string]()},
	}
	for _, test := range tests {
		match, err := s.Check(ctx, test.name)
		require.NoError(t, err, test.name)
		require.Equal(t, test.entity.IsSome(), match.Sanctioned, test.name)
		require.Equal(t, test.entity, match.MatchedEntity, test.name)
	}

	_, err = s.Check(ctx, "  ")
	require.ErrorIs(t, err, ErrEmptyName)
}

// TestListReload checks the file is re-read on Reload.
func TestListReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sanctions.csv")
	require.NoError(t, os.WriteFile(path, []byte("Ivan Petrov\n"), 0600))

	s, err := NewListScreener(path)
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	ctx := context.Background()
	match, err := s.Check(ctx, "Mallory Bad")
	require.NoError(t, err)
	require.False(t, match.Sanctioned)

	require.NoError(t, os.WriteFile(
		path, []byte("Ivan Petrov\nMallory Bad\n"), 0600,
	))
	require.NoError(t, s.Reload())
	require.Equal(t, 2, s.Len())

	match, err = s.Check(ctx, "Mallory Bad")
	require.NoError(t, err)
	require.True(t, match.Sanctioned)

	_, err = NewListScreener(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

// TestHTTPScreener checks the remote screener and its failure mapping.
func TestHTTPScreener(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter,
		r *http.Request) {

		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch Normalize(req.Name) {
		case "ivan petrov":
			entity := "Ivan Petrov"
			_ = json.NewEncoder(w).Encode(checkResponse{
				Sanctioned: true, MatchedEntity: &entity,
			})

		case "broken":
			http.Error(w, "db down", http.StatusInternalServerError)

		default:
			_ = json.NewEncoder(w).Encode(checkResponse{})
		}
	}))
	defer srv.Close()

	s := NewHTTPScreener(srv.URL, time.Second)
	ctx := context.Background()

	match, err := s.Check(ctx, "Ivan Petrov")
	require.NoError(t, err)
	require.True(t, match.Sanctioned)
	require.Equal(t, fn.Some("Ivan Petrov"), match.MatchedEntity)

	match, err = s.Check(ctx, "Alice Example")
	require.NoError(t, err)
	require.False(t, match.Sanctioned)
	require.True(t, match.MatchedEntity.IsNone())

	_, err = s.Check(ctx, "broken")
	require.ErrorIs(t, err, ErrUnavailable)
}
