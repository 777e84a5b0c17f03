// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package coordinator

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// operationsHashClaims is the single claim a cross-replica pend carries: the
// operations hash the coordinator computed at commit time, so a receiving
// peer's repo server can verify it was not altered in transit without
// re-deriving it itself.
type operationsHashClaims struct {
	jwt.RegisteredClaims
	OperationsHash string `json:"operationsHash"`
}

// Signer signs and verifies the operations hash attached to a pend sent to
// a non-self cohort member: peers trust that the hash they validate against
// is the one the coordinator computed, not that the coordinator itself is
// honest.
type Signer struct {
	secret []byte
}

// NewSigner constructs a Signer over a shared HMAC secret. Production
// deployments rotate this out of band; the module has no key-distribution
// mechanism of its own.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign wraps operationsHash in a signed, compact JWT.
func (s *Signer) Sign(operationsHash string) (string, error) {
	claims := operationsHashClaims{OperationsHash: operationsHash}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign operations hash: %w", err)
	}
	return signed, nil
}

// Verify checks token's signature and returns the operations hash it
// carries.
func (s *Signer) Verify(token string) (string, error) {
	claims := &operationsHashClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse operations hash token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("operations hash token is not valid")
	}
	return claims.OperationsHash, nil
}
