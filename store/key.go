package store

import (
	"golang.org/x/crypto/blake2b"
)

// keyHashSize is the digest length of the blake2_128 prefix.
const keyHashSize = 16

// Key returns the blake2_128_concat storage key for an account: the 16-byte
// blake2b digest of the account followed by the account itself. The digest
// spreads keys evenly across a keyspace while the suffix keeps the account
// recoverable from the key.
func Key(account Account) []byte {
	// blake2b.New only fails for sizes outside 1..64 or keys longer than 64 bytes.
	h, err := blake2b.New(keyHashSize, nil)
	if err != nil {
		panic("store: blake2b: " + err.Error())
	}
	h.Write(account[:])
	key := make([]byte, 0, keyHashSize+AccountSize)
	key = h.Sum(key)
	return append(key, account[:]...)
}

// AccountFromKey recovers the account from a key produced by Key.
func AccountFromKey(key []byte) (Account, error) {
	var a Account
	if len(key) != keyHashSize+AccountSize {
		return a, ErrInvalidAccount
	}
	copy(a[:], key[keyHashSize:])
	return a, nil
}
