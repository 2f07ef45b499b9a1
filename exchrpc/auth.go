package exchrpc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Headers of a signed request.
const (
	HeaderIdentityKey = "X-Identity-Key"
	HeaderTimestamp   = "X-Timestamp"
	HeaderSignature   = "X-Signature"
)

var (
	// ErrMissingAuth is returned when a signature header is absent.
	ErrMissingAuth = errors.New("request is not signed")

	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("request signature invalid")

	// ErrStaleRequest is returned when the timestamp is too far from the
	// server clock.
	ErrStaleRequest = errors.New("request timestamp outside allowed skew")
)

// RequestDigest is the hash a requester signs. It commits to the method, the
// request URI including the query, the timestamp and the body.
func RequestDigest(method, requestURI string, timestamp int64,
	body []byte) [32]byte {

	bodyHash := sha256.Sum256(body)
	msg := fmt.Sprintf("%s\n%s\n%d\n%s", method, requestURI, timestamp,
		hex.EncodeToString(bodyHash[:]))

	return sha256.Sum256([]byte(msg))
}

// SignRequest sets the signature headers on the request.
func SignRequest(req *http.Request, key *btcec.PrivateKey, body []byte,
	now time.Time) {

	ts := now.Unix()
	digest := RequestDigest(req.Method, req.URL.RequestURI(), ts, body)
	sig := ecdsa.Sign(key, digest[:])

	req.Header.Set(HeaderIdentityKey,
		hex.EncodeToString(key.PubKey().SerializeCompressed()))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig.Serialize()))
}

// VerifyRequest checks the signature headers of the request against its
// body and returns the requester's identity key.
func VerifyRequest(req *http.Request, body []byte, now time.Time,
	maxSkew time.Duration) (*btcec.PublicKey, error) {

	keyHex := req.Header.Get(HeaderIdentityKey)
	tsStr := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)
	if keyHex == "" || tsStr == "" || sigHex == "" {
		return nil, ErrMissingAuth
	}

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad identity key", ErrBadSignature)
	}
	key, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bad identity key", ErrBadSignature)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > maxSkew || skew < -maxSkew {
		return nil, ErrStaleRequest
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, ErrBadSignature
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return nil, ErrBadSignature
	}

	digest := RequestDigest(req.Method, req.URL.RequestURI(), ts, body)
	if !sig.Verify(digest[:], key) {
		return nil, ErrBadSignature
	}

	return key, nil
}
