package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// wire format (all integers big-endian uint32 length prefixes, version
// byte first so the format can evolve without breaking content-addressing
// of existing cipher-text):
//
//   version(1) senderKey cipherText cipherTextNonce
//   recipientBoxes(count + each) recipientNonce
//   recipientKeys(count + each) privacyMode(1)
//   acoths(count + each: hash(32) + securityHash) execHash

const wireVersion = 1

// Encode serializes an EncodedPayload canonically. encode(decode(x)) == x
// for any bytes x produced by Encode, and decode(encode(p)) == p for any
// well-formed p.
func Encode(p EncodedPayload) ([]byte, error) {
	if err := validateStructure(p); err != nil {
		return nil, err
	}
	var buf []byte
	buf = append(buf, wireVersion)
	buf = appendBytes(buf, p.SenderKey)
	buf = appendBytes(buf, p.CipherText)
	buf = appendBytes(buf, p.CipherTextNonce)

	buf = appendUint32(buf, uint32(len(p.RecipientBoxes)))
	for _, box := range p.RecipientBoxes {
		buf = appendBytes(buf, box)
	}
	buf = appendBytes(buf, p.RecipientNonce)

	buf = appendUint32(buf, uint32(len(p.RecipientKeys)))
	for _, k := range p.RecipientKeys {
		buf = appendBytes(buf, k)
	}

	buf = append(buf, byte(p.PrivacyMode))

	buf = appendUint32(buf, uint32(len(p.AffectedContractTxs)))
	for _, a := range p.AffectedContractTxs {
		buf = append(buf, a.Hash[:]...)
		buf = appendBytes(buf, a.SecurityHash)
	}
	buf = appendBytes(buf, p.ExecHash)
	return buf, nil
}

// Decode parses bytes produced by Encode. Any structural error (truncated
// buffer, length mismatch, unknown privacy mode) surfaces as
// MalformedPayload.
func Decode(b []byte) (EncodedPayload, error) {
	r := &reader{buf: b}
	version, err := r.byte()
	if err != nil {
		return EncodedPayload{}, malformed("version", err)
	}
	if version != wireVersion {
		return EncodedPayload{}, txerrors.Wrap(txerrors.MalformedPayload, fmt.Sprintf("unsupported wire version %d", version))
	}

	var p EncodedPayload
	if p.SenderKey, err = r.bytesField(); err != nil {
		return EncodedPayload{}, malformed("senderKey", err)
	}
	if p.CipherText, err = r.bytesField(); err != nil {
		return EncodedPayload{}, malformed("cipherText", err)
	}
	if p.CipherTextNonce, err = r.bytesField(); err != nil {
		return EncodedPayload{}, malformed("cipherTextNonce", err)
	}

	boxCount, err := r.uint32()
	if err != nil {
		return EncodedPayload{}, malformed("recipientBoxes count", err)
	}
	p.RecipientBoxes = make([][]byte, 0, boxCount)
	for i := uint32(0); i < boxCount; i++ {
		box, err := r.bytesField()
		if err != nil {
			return EncodedPayload{}, malformed("recipientBoxes element", err)
		}
		p.RecipientBoxes = append(p.RecipientBoxes, box)
	}
	if p.RecipientNonce, err = r.bytesField(); err != nil {
		return EncodedPayload{}, malformed("recipientNonce", err)
	}

	keyCount, err := r.uint32()
	if err != nil {
		return EncodedPayload{}, malformed("recipientKeys count", err)
	}
	p.RecipientKeys = make([]PublicKey, 0, keyCount)
	for i := uint32(0); i < keyCount; i++ {
		k, err := r.bytesField()
		if err != nil {
			return EncodedPayload{}, malformed("recipientKeys element", err)
		}
		p.RecipientKeys = append(p.RecipientKeys, PublicKey(k))
	}

	modeByte, err := r.byte()
	if err != nil {
		return EncodedPayload{}, malformed("privacyMode", err)
	}
	p.PrivacyMode = PrivacyMode(modeByte)

	acothCount, err := r.uint32()
	if err != nil {
		return EncodedPayload{}, malformed("acoths count", err)
	}
	p.AffectedContractTxs = make([]AffectedTransaction, 0, acothCount)
	for i := uint32(0); i < acothCount; i++ {
		hashBytes, err := r.fixed(txhash.Size)
		if err != nil {
			return EncodedPayload{}, malformed("acoth hash", err)
		}
		th, _ := txhash.TxHashFromBytes(hashBytes)
		sh, err := r.bytesField()
		if err != nil {
			return EncodedPayload{}, malformed("acoth securityHash", err)
		}
		p.AffectedContractTxs = append(p.AffectedContractTxs, AffectedTransaction{Hash: th, SecurityHash: sh})
	}
	if p.ExecHash, err = r.bytesField(); err != nil {
		return EncodedPayload{}, malformed("execHash", err)
	}
	if !r.exhausted() {
		return EncodedPayload{}, txerrors.Wrap(txerrors.MalformedPayload, "trailing bytes after envelope")
	}
	if err := validateStructure(p); err != nil {
		return EncodedPayload{}, err
	}
	return p, nil
}

// ForRecipient projects p down to exactly one recipient: the
// privacy-preserving transform that removes every other recipient's box
// before the envelope is published to target.
func ForRecipient(p EncodedPayload, target PublicKey) (EncodedPayload, error) {
	idx := p.IndexOfRecipient(target)
	if idx < 0 {
		return EncodedPayload{}, txerrors.Wrap(txerrors.RecipientNotInPayload, fmt.Sprintf("recipient %x not in payload", []byte(target)))
	}
	out := p.Clone()
	out.RecipientKeys = []PublicKey{append(PublicKey{}, target...)}
	if idx < len(p.RecipientBoxes) {
		out.RecipientBoxes = [][]byte{append([]byte{}, p.RecipientBoxes[idx]...)}
	} else {
		out.RecipientBoxes = nil
	}
	return out, nil
}

func malformed(field string, cause error) error {
	return txerrors.Wrap(txerrors.MalformedPayload, fmt.Sprintf("%s: %v", field, cause))
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader walks a byte slice, erroring instead of panicking on truncation.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return n, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("truncated")
	}
	out := append([]byte{}, r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.fixed(int(n))
}

func (r *reader) exhausted() bool { return r.pos == len(r.buf) }
