package federation

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

// clockSkew is the ±30s window spec.md §4.8 allows between a token's
// embedded timestamp and the verifier's clock.
const clockSkew = 30 * time.Second

// Token is the wire shape exchanged between hosts: raw signed bytes plus
// the signature over them, matching the source's protobuf Token{data,sig}.
type Token struct {
	Data []byte
	Sig  []byte
}

// authData is what Data actually encodes: the claiming host's name and
// the time it was signed, encoded as an 8-byte big-endian Unix timestamp
// followed by the raw host bytes. This stands in for the source's
// protobuf message without pulling in a protobuf dependency this domain
// has no other use for.
type authData struct {
	host string
	time int64
}

func encodeAuthData(host string, at time.Time) []byte {
	buf := make([]byte, 8+len(host))
	binary.BigEndian.PutUint64(buf[:8], uint64(at.Unix()))
	copy(buf[8:], host)
	return buf
}

func decodeAuthData(data []byte) (authData, error) {
	if len(data) < 8 {
		return authData{}, herror.ErrInvalidFederationToken
	}
	return authData{
		time: int64(binary.BigEndian.Uint64(data[:8])),
		host: string(data[8:]),
	}, nil
}

// NewAuthToken signs a token asserting that ownHost is making this
// request, timestamped now.
func (m *KeyManager) NewAuthToken(ownHost string) Token {
	return m.Sign(encodeAuthData(ownHost, time.Now()))
}

// VerifyAuthToken checks a token's signature against the claimed host's
// cached public key, re-fetching once on a mismatch in case the peer
// rotated its key (source: impls/sync/mod.rs auth()), and rejects tokens
// outside the clock-skew window regardless of signature validity.
func (m *KeyManager) VerifyAuthToken(ctx context.Context, token Token) (string, error) {
	data, err := decodeAuthData(token.Data)
	if err != nil {
		return "", err
	}
	if skewed(data.time) {
		return "", herror.ErrInvalidFederationToken
	}

	pub, err := m.GetKey(ctx, data.host)
	if err != nil {
		return "", err
	}
	if ed25519.Verify(pub, token.Data, token.Sig) {
		return data.host, nil
	}

	m.InvalidateKey(ctx, data.host)
	pub, err = m.GetKey(ctx, data.host)
	if err != nil {
		return "", err
	}
	if !ed25519.Verify(pub, token.Data, token.Sig) {
		return "", herror.ErrInvalidFederationToken
	}
	return data.host, nil
}

func skewed(unixTime int64) bool {
	delta := time.Since(time.Unix(unixTime, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta > clockSkew
}
