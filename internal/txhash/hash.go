// Package txhash implements a deterministic, collision-resistant digest
// of cipher-text, used as the content-address identity of a stored
// transaction: sha256 over bytes, hex-encoded object keys, in the same
// style as this repository's blob-storage object addressing.
package txhash

import "crypto/sha256"

// Size is the fixed digest width in bytes.
const Size = sha256.Size

// MessageHash identifies a persisted EncryptedTransaction by the sha256 of
// its cipher-text. Used at the storage boundary.
type MessageHash [Size]byte

// TxHash is the same digest used inside payload graphs (affected contract
// transaction references). It is bit-for-bit convertible with MessageHash
// by copying bytes, never by re-hashing.
type TxHash [Size]byte

// Hash computes the MessageHash of cipher-text. Deterministic: the same
// bytes on any node produce the same hash, which is the cross-node
// identity contract this whole system depends on.
func Hash(cipherText []byte) MessageHash {
	return MessageHash(sha256.Sum256(cipherText))
}

// ToTxHash copies bytes into a TxHash without re-hashing.
func (h MessageHash) ToTxHash() TxHash { return TxHash(h) }

// ToMessageHash copies bytes into a MessageHash without re-hashing.
func (h TxHash) ToMessageHash() MessageHash { return MessageHash(h) }

func (h MessageHash) Bytes() []byte { return h[:] }
func (h TxHash) Bytes() []byte      { return h[:] }

func (h MessageHash) String() string { return hexString(h[:]) }
func (h TxHash) String() string      { return hexString(h[:]) }

// FromBytes builds a MessageHash from raw bytes of the correct width.
func FromBytes(b []byte) (MessageHash, bool) {
	if len(b) != Size {
		return MessageHash{}, false
	}
	var h MessageHash
	copy(h[:], b)
	return h, true
}

// TxHashFromBytes builds a TxHash from raw bytes of the correct width.
func TxHashFromBytes(b []byte) (TxHash, bool) {
	if len(b) != Size {
		return TxHash{}, false
	}
	var h TxHash
	copy(h[:], b)
	return h, true
}

const hexDigits = "0123456789abcdef"

func hexString(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}
