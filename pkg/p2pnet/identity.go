// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"bytes"
	"encoding/hex"

	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/sha3"
)

// SecretKey is either a seed phrase to derive an Ed25519 key from, or an
// already-generated hex-encoded private key. Exactly one field must be
// set.
type SecretKey struct {
	Seed string
	Key  string
}

// Keypair derives a libp2p Ed25519 identity keypair from secret. When Seed
// is set, the keypair material is the SHA3-256 digest of the seed bytes;
// when Key is set, it is decoded directly from hex.
func Keypair(secret SecretKey) (crypto.PrivKey, error) {
	var seedBytes []byte
	switch {
	case secret.Seed != "":
		digest := sha3.Sum256([]byte(secret.Seed))
		seedBytes = digest[:]
	case secret.Key != "":
		decoded, err := hex.DecodeString(secret.Key)
		if err != nil {
			return nil, Error.New("error decoding secret key from config: %v", err)
		}
		if len(decoded) != 32 {
			return nil, Error.New("secret key must decode to 32 bytes, got %d", len(decoded))
		}
		seedBytes = decoded
	default:
		return nil, Error.New("secret key requires either a seed or a key")
	}

	priv, _, err := crypto.GenerateEd25519Key(bytes.NewReader(seedBytes))
	if err != nil {
		return nil, Error.New("error generating secret key: %v", err)
	}
	return priv, nil
}
