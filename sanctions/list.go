package sanctions

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ListScreener screens names against a list loaded from a CSV file. Every
// record names one entity: the first column is its primary name and any
// further columns are aliases. Lines starting with # are comments.
type ListScreener struct {
	path string

	mu      sync.RWMutex
	entries map[string]string
}

// NewListScreener loads the list at path.
func NewListScreener(path string) (*ListScreener, error) {
	s := &ListScreener{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// NewListScreenerFromReader builds a screener from an in-memory list. Such a
// screener cannot be reloaded.
func NewListScreenerFromReader(r io.Reader) (*ListScreener, error) {
	entries, err := parseList(r)
	if err != nil {
		return nil, err
	}

	return &ListScreener{entries: entries}, nil
}

// Reload reads the list file again and swaps it in atomically.
func (s *ListScreener) Reload() error {
	if s.path == "" {
		return errors.New("screener has no list file")
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("unable to open sanctions list: %w", err)
	}
	defer f.Close()

	entries, err := parseList(f)
	if err != nil {
		return fmt.Errorf("unable to parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	log.Infof("Loaded %d sanctions list keys from %s", len(entries),
		s.path)

	return nil
}

// parseList maps the token key of every listed name and alias to the
// entity's primary name.
func parseList(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	entries := make(map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		primary := strings.TrimSpace(record[0])
		if primary == "" {
			continue
		}

		for _, name := range record {
			key := tokenKey(Normalize(name))
			if key == "" {
				continue
			}
			entries[key] = primary
		}
	}

	return entries, nil
}

// Len returns the number of distinct name keys on the list.
func (s *ListScreener) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Check screens the name against the list.
//
// NOTE: This is part of the Screener interface.
func (s *ListScreener) Check(_ context.Context, name string) (*Match, error) {
	key := tokenKey(Normalize(name))
	if key == "" {
		return nil, ErrEmptyName
	}

	s.mu.RLock()
	entity, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		match := NoMatch
		return &match, nil
	}

	log.Infof("Name %q matched sanctions entity %q", name, entity)

	return &Match{
		Sanctioned:    true,
		MatchedEntity: fn.Some(entity),
	}, nil
}

// A compile-time assertion to ensure ListScreener implements Screener.
var _ Screener = (*ListScreener)(nil)
