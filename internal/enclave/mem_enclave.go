package enclave

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// MemEnclave is a reference, non-production Enclave: stdlib AES-GCM
// envelope encryption with per-recipient-pair shared secrets derived via
// HMAC-SHA256, in the no-external-crypto-library style this repository
// uses elsewhere for token signing (stdlib crypto/hmac + crypto/sha256,
// no randomness in key derivation). The real Enclave this core
// integrates with performs actual asymmetric box encryption; this type
// exists solely so TransactionManager is exercisable end to end in this
// repository's tests and reference binary.
type MemEnclave struct {
	nodeID         payload.PublicKey
	masterSecret   []byte
	forwardingKeys []payload.PublicKey
	localKeys      map[string]struct{} // set of PublicKey(string) this node holds
	securityHashes map[txhash.TxHash][]byte
}

// NewMemEnclave constructs a MemEnclave for nodeID, sharing masterSecret
// out of band with every peer that must be able to derive the same
// per-pair secrets (a stand-in for real asymmetric key exchange).
func NewMemEnclave(nodeID payload.PublicKey, masterSecret []byte, forwardingKeys []payload.PublicKey) *MemEnclave {
	return &MemEnclave{
		nodeID:         append(payload.PublicKey{}, nodeID...),
		masterSecret:   append([]byte{}, masterSecret...),
		forwardingKeys: forwardingKeys,
		localKeys:      map[string]struct{}{string(nodeID): {}},
		securityHashes: map[txhash.TxHash][]byte{},
	}
}

// AddLocalKey registers an additional key this node can decrypt with,
// used by receive's trial-decryption loop over PublicKeys.
func (m *MemEnclave) AddLocalKey(k payload.PublicKey) {
	m.localKeys[string(k)] = struct{}{}
}

// RecordSecurityHash lets tests/callers register the security hash this
// enclave considers valid for a given ACOTH hash.
func (m *MemEnclave) RecordSecurityHash(h txhash.TxHash, secHash []byte) {
	m.securityHashes[h] = append([]byte{}, secHash...)
}

func (m *MemEnclave) pairSecret(a, b payload.PublicKey) []byte {
	pair := [][]byte{[]byte(a), []byte(b)}
	sort.Slice(pair, func(i, j int) bool { return string(pair[i]) < string(pair[j]) })
	mac := hmac.New(sha256.New, m.masterSecret)
	mac.Write(pair[0])
	mac.Write(pair[1])
	return mac.Sum(nil)
}

func aesGCMSeal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func aesGCMOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func randomNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Encrypt implements Enclave.Encrypt: one symmetric message key encrypts
// RawPayload once (CipherText/CipherTextNonce); that message key is then
// wrapped per recipient with the sender<->recipient pair secret, producing
// RecipientBoxes in the same order as req.Recipients.
func (m *MemEnclave) Encrypt(ctx context.Context, req EncryptRequest) (payload.EncodedPayload, error) {
	msgKey, err := randomNonce(32)
	if err != nil {
		return payload.EncodedPayload{}, fmt.Errorf("enclave: message key: %w", err)
	}
	ctNonce, err := randomNonce(12)
	if err != nil {
		return payload.EncodedPayload{}, fmt.Errorf("enclave: ct nonce: %w", err)
	}
	cipherText, err := aesGCMSeal(msgKey, ctNonce, req.RawPayload)
	if err != nil {
		return payload.EncodedPayload{}, fmt.Errorf("enclave: seal cipher text: %w", err)
	}

	boxNonce, err := randomNonce(12)
	if err != nil {
		return payload.EncodedPayload{}, fmt.Errorf("enclave: box nonce: %w", err)
	}
	boxes := make([][]byte, len(req.Recipients))
	for i, r := range req.Recipients {
		secret := m.pairSecret(req.Sender, r)
		box, err := aesGCMSeal(secret, boxNonce, msgKey)
		if err != nil {
			return payload.EncodedPayload{}, fmt.Errorf("enclave: seal box for recipient %d: %w", i, err)
		}
		boxes[i] = box
	}

	execHash := req.ExecHash
	if execHash == nil {
		execHash = []byte{}
	}

	out := payload.EncodedPayload{
		SenderKey:           append(payload.PublicKey{}, req.Sender...),
		CipherText:          cipherText,
		CipherTextNonce:     ctNonce,
		RecipientBoxes:      boxes,
		RecipientNonce:      boxNonce,
		RecipientKeys:       append([]payload.PublicKey{}, req.Recipients...),
		PrivacyMode:         req.PrivacyMode,
		AffectedContractTxs: append([]payload.AffectedTransaction{}, req.ACOTHs...),
		ExecHash:            execHash,
	}
	for _, a := range req.ACOTHs {
		m.securityHashes[a.Hash] = a.SecurityHash
	}
	return out, nil
}

// Decrypt recovers plaintext as recipientKey: unwrap the message key from
// recipientKey's box, then open CipherText with it. Any failure (wrong
// key, corrupt box) is returned uniformly as an error.
func (m *MemEnclave) Decrypt(ctx context.Context, p payload.EncodedPayload, recipientKey payload.PublicKey) ([]byte, error) {
	idx := p.IndexOfRecipient(recipientKey)
	if idx < 0 || idx >= len(p.RecipientBoxes) {
		return nil, fmt.Errorf("enclave: recipient not in payload")
	}
	secret := m.pairSecret(p.SenderKey, recipientKey)
	msgKey, err := aesGCMOpen(secret, p.RecipientNonce, p.RecipientBoxes[idx])
	if err != nil {
		return nil, fmt.Errorf("enclave: open box: %w", err)
	}
	plaintext, err := aesGCMOpen(msgKey, p.CipherTextNonce, p.CipherText)
	if err != nil {
		return nil, fmt.Errorf("enclave: open cipher text: %w", err)
	}
	return plaintext, nil
}

// RawEncrypt supports store(): a sender-only envelope with no recipient
// boxes, the message key itself sealed as EncryptedKey under the sender's
// own derived secret (this node decrypts its own raw transactions later
// in sendSignedTransaction).
func (m *MemEnclave) RawEncrypt(ctx context.Context, raw []byte, sender payload.PublicKey) (cipherText, encryptedKey, nonce []byte, err error) {
	msgKey, err := randomNonce(32)
	if err != nil {
		return nil, nil, nil, err
	}
	n, err := randomNonce(12)
	if err != nil {
		return nil, nil, nil, err
	}
	ct, err := aesGCMSeal(msgKey, n, raw)
	if err != nil {
		return nil, nil, nil, err
	}
	selfSecret := m.pairSecret(sender, sender)
	keyNonce, err := randomNonce(12)
	if err != nil {
		return nil, nil, nil, err
	}
	encKey, err := aesGCMSeal(selfSecret, keyNonce, msgKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return ct, append(keyNonce, encKey...), n, nil
}

// RawDecrypt reverses RawEncrypt: encryptedKey is keyNonce||encKey, both
// sealed/opened under the sender's self-derived pair secret.
func (m *MemEnclave) RawDecrypt(ctx context.Context, cipherText, encryptedKey, nonce []byte, sender payload.PublicKey) ([]byte, error) {
	if len(encryptedKey) < 12 {
		return nil, fmt.Errorf("enclave: encrypted key too short")
	}
	keyNonce, encKey := encryptedKey[:12], encryptedKey[12:]
	selfSecret := m.pairSecret(sender, sender)
	msgKey, err := aesGCMOpen(selfSecret, keyNonce, encKey)
	if err != nil {
		return nil, fmt.Errorf("enclave: open raw message key: %w", err)
	}
	plaintext, err := aesGCMOpen(msgKey, nonce, cipherText)
	if err != nil {
		return nil, fmt.Errorf("enclave: open raw cipher text: %w", err)
	}
	return plaintext, nil
}

func (m *MemEnclave) ForwardingKeys(ctx context.Context) ([]payload.PublicKey, error) {
	return append([]payload.PublicKey{}, m.forwardingKeys...), nil
}

func (m *MemEnclave) DefaultKey(ctx context.Context) (payload.PublicKey, error) {
	return append(payload.PublicKey{}, m.nodeID...), nil
}

func (m *MemEnclave) PublicKeys(ctx context.Context) ([]payload.PublicKey, error) {
	out := make([]payload.PublicKey, 0, len(m.localKeys))
	for k := range m.localKeys {
		out = append(out, payload.PublicKey(k))
	}
	return out, nil
}

func (m *MemEnclave) InvalidSecurityHashes(ctx context.Context, acoths []payload.AffectedTransaction) ([]txhash.TxHash, error) {
	var invalid []txhash.TxHash
	for _, a := range acoths {
		known, ok := m.securityHashes[a.Hash]
		if !ok {
			continue // unknown locally: not this check's job, PrivacyViolation path (if any) is separate
		}
		if string(known) != string(a.SecurityHash) {
			invalid = append(invalid, a.Hash)
		}
	}
	return invalid, nil
}
