// Package uuid generates short, URL-safe unique identifiers for rooms and
// clients.
package uuid

import (
	"math/big"

	"github.com/google/uuid"
)

const alphabetBase62 = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// New returns a new random identifier in base62.
func New() string {
	value := uuid.New()

	return encodeBase62(value[:])
}

func encodeBase62(data []byte) string {
	var (
		value big.Int
		zero  big.Int
		base  big.Int
	)

	value.SetBytes(data)
	base.SetInt64(int64(len(alphabetBase62)))

	var mod big.Int

	result := make([]byte, 0, 22)

	for value.Cmp(&zero) != 0 {
		value.DivMod(&value, &base, &mod)
		result = append(result, alphabetBase62[mod.Int64()])
	}

	return string(result)
}
