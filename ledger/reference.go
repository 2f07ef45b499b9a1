package ledger

import "github.com/lightningnetwork/lnd/fn/v2"

// referenceOption maps an empty reference to None.
func referenceOption(ref string) fn.Option[string] {
	if ref == "" {
		return fn.None[string]()
	}

	return fn.Some(ref)
}
