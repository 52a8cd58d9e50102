package stellar

import (
	"fmt"

	"github.com/stellar/go/keypair"
)

// KeypairFromSecret derives the account address of a secret seed.
func KeypairFromSecret(secret string) (Keypair, error) {
	full, err := keypair.ParseFull(secret)
	if err != nil {
		return Keypair{}, fmt.Errorf("parse secret: %w", err)
	}
	return Keypair{Address: full.Address(), secret: full.Seed()}, nil
}

// RandomKeypair generates a fresh, unfunded keypair.
func RandomKeypair() (Keypair, error) {
	full, err := keypair.Random()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return Keypair{Address: full.Address(), secret: full.Seed()}, nil
}
