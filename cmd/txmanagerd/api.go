package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ap3pp3rs94/txmanager/internal/b64"
	"github.com/Ap3pp3rs94/txmanager/internal/payload"
	"github.com/Ap3pp3rs94/txmanager/internal/telemetry"
	"github.com/Ap3pp3rs94/txmanager/internal/txerrors"
	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
	"github.com/Ap3pp3rs94/txmanager/internal/txmgr"
)

// api adapts the seven TransactionManager operations to JSON over HTTP.
// Every opaque byte field (keys, hashes, raw payloads) crosses the wire
// as base64, matching the convention internal/b64 documents for every
// other boundary in this repository.
type api struct {
	mgr *txmgr.TransactionManager
	log *telemetry.Logger
}

func newAPI(mgr *txmgr.TransactionManager, log *telemetry.Logger) *api {
	return &api{mgr: mgr, log: log}
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": serviceName, "version": version, "commit": commit})
}

func (a *api) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "service": serviceName, "version": version, "commit": commit})
}

type acothDTO struct {
	Hash         string `json:"hash"`
	SecurityHash string `json:"securityHash,omitempty"`
}

func (d acothDTO) toDomain() (payload.AffectedTransaction, error) {
	raw, err := b64.Decode(d.Hash)
	if err != nil {
		return payload.AffectedTransaction{}, err
	}
	h, ok := txhash.FromBytes(raw)
	if !ok {
		return payload.AffectedTransaction{}, errors.New("malformed affected transaction hash")
	}
	var secHash []byte
	if d.SecurityHash != "" {
		secHash, err = b64.Decode(d.SecurityHash)
		if err != nil {
			return payload.AffectedTransaction{}, err
		}
	}
	return payload.AffectedTransaction{Hash: h.ToTxHash(), SecurityHash: secHash}, nil
}

func decodeKeys(in []string) ([]payload.PublicKey, error) {
	out := make([]payload.PublicKey, 0, len(in))
	for _, s := range in {
		raw, err := b64.Decode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, payload.PublicKey(raw))
	}
	return out, nil
}

func decodeACOTHs(in []acothDTO) ([]payload.AffectedTransaction, error) {
	out := make([]payload.AffectedTransaction, 0, len(in))
	for _, d := range in {
		a, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type sendRequestDTO struct {
	From                         string     `json:"from,omitempty"`
	To                           []string   `json:"to"`
	Payload                      string     `json:"payload"`
	PrivacyMode                  byte       `json:"privacyMode"`
	ExecHash                     string     `json:"execHash,omitempty"`
	AffectedContractTransactions []acothDTO `json:"affectedContractTransactions,omitempty"`
}

func (a *api) handleSend(w http.ResponseWriter, r *http.Request) {
	var in sendRequestDTO
	if !decodeBody(w, r, &in) {
		return
	}
	raw, err := b64.Decode(in.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "payload is not valid base64")
		return
	}
	to, err := decodeKeys(in.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "to contains invalid base64")
		return
	}
	acoths, err := decodeACOTHs(in.AffectedContractTransactions)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "affectedContractTransactions is malformed")
		return
	}
	var from payload.PublicKey
	if in.From != "" {
		fromRaw, err := b64.Decode(in.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from is not valid base64")
			return
		}
		from = fromRaw
	}
	var execHash []byte
	if in.ExecHash != "" {
		execHash, err = b64.Decode(in.ExecHash)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "execHash is not valid base64")
			return
		}
	}

	res, err := a.mgr.Send(r.Context(), txmgr.SendRequest{
		From:                         from,
		To:                           to,
		RawPayload:                   raw,
		PrivacyMode:                  payload.PrivacyMode(in.PrivacyMode),
		ExecHash:                     execHash,
		AffectedContractTransactions: acoths,
	})
	if !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": res.Key})
}

type sendSignedTransactionRequestDTO struct {
	Hash                         string     `json:"hash"`
	To                           []string   `json:"to"`
	PrivacyMode                  byte       `json:"privacyMode"`
	ExecHash                     string     `json:"execHash,omitempty"`
	AffectedContractTransactions []acothDTO `json:"affectedContractTransactions,omitempty"`
}

func (a *api) handleSendSignedTransaction(w http.ResponseWriter, r *http.Request) {
	var in sendSignedTransactionRequestDTO
	if !decodeBody(w, r, &in) {
		return
	}
	hash, ok := decodeMessageHash(w, in.Hash)
	if !ok {
		return
	}
	to, err := decodeKeys(in.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "to contains invalid base64")
		return
	}
	acoths, err := decodeACOTHs(in.AffectedContractTransactions)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "affectedContractTransactions is malformed")
		return
	}
	var execHash []byte
	if in.ExecHash != "" {
		execHash, err = b64.Decode(in.ExecHash)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "execHash is not valid base64")
			return
		}
	}

	res, err := a.mgr.SendSignedTransaction(r.Context(), txmgr.SendSignedTransactionRequest{
		Hash:                         hash,
		To:                           to,
		PrivacyMode:                  payload.PrivacyMode(in.PrivacyMode),
		ExecHash:                     execHash,
		AffectedContractTransactions: acoths,
	})
	if !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": res.Key})
}

func (a *api) handleStorePayload(w http.ResponseWriter, r *http.Request) {
	body, ok := readRawBody(w, r)
	if !ok {
		return
	}
	res, err := a.mgr.StorePayload(r.Context(), body)
	if !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": res.Key, "dropped": res.Dropped})
}

type storeRequestDTO struct {
	From    string `json:"from,omitempty"`
	Payload string `json:"payload"`
}

func (a *api) handleStore(w http.ResponseWriter, r *http.Request) {
	var in storeRequestDTO
	if !decodeBody(w, r, &in) {
		return
	}
	raw, err := b64.Decode(in.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "payload is not valid base64")
		return
	}
	var from payload.PublicKey
	if in.From != "" {
		fromRaw, err := b64.Decode(in.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from is not valid base64")
			return
		}
		from = fromRaw
	}
	key, err := a.mgr.Store(r.Context(), txmgr.StoreRequest{From: from, RawPayload: raw})
	if !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key})
}

func (a *api) handleReceive(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var to payload.PublicKey
	if v := r.URL.Query().Get("to"); v != "" {
		raw, err := b64.Decode(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to is not valid base64")
			return
		}
		to = raw
	}
	res, err := a.mgr.Receive(r.Context(), txmgr.ReceiveRequest{Key: key, To: to})
	if !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payload":   b64.Encode(res.RawPayload),
		"senderKey": b64.Encode(res.SenderKey),
		"to":        b64.Encode(res.To),
	})
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := a.mgr.Delete(r.Context(), key); !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type resendAllRequestDTO struct {
	Recipient string `json:"recipient"`
}

func (a *api) handleResendAll(w http.ResponseWriter, r *http.Request) {
	var in resendAllRequestDTO
	if !decodeBody(w, r, &in) {
		return
	}
	recipient, err := b64.Decode(in.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "recipient is not valid base64")
		return
	}
	if err := a.mgr.ResendAll(r.Context(), recipient); !a.writeOutcome(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}

type resendIndividualRequestDTO struct {
	Recipient string `json:"recipient"`
	Key       string `json:"key"`
}

func (a *api) handleResendIndividual(w http.ResponseWriter, r *http.Request) {
	var in resendIndividualRequestDTO
	if !decodeBody(w, r, &in) {
		return
	}
	recipient, err := b64.Decode(in.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "recipient is not valid base64")
		return
	}
	envelope, err := a.mgr.ResendIndividual(r.Context(), txmgr.ResendIndividualRequest{Recipient: recipient, Key: in.Key})
	if !a.writeOutcome(w, r, err) {
		return
	}
	body, err := payload.Encode(envelope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to encode envelope")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"envelope": b64.Encode(body)})
}

// decodeBody parses a JSON request body, writing a 400 and returning
// false on failure so callers can `return` immediately.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}

func readRawBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	var in struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return nil, false
	}
	raw, err := b64.Decode(in.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "payload is not valid base64")
		return nil, false
	}
	return raw, true
}

func decodeMessageHash(w http.ResponseWriter, s string) (txhash.MessageHash, bool) {
	raw, err := b64.Decode(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "hash is not valid base64")
		return txhash.MessageHash{}, false
	}
	h, ok := txhash.FromBytes(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "hash has the wrong length")
		return txhash.MessageHash{}, false
	}
	return h, true
}

// writeOutcome maps a txmgr error onto an HTTP status and writes the
// error body, returning false so the caller can bail out. A nil error
// returns true and writes nothing, leaving the caller to write its own
// success body.
func (a *api) writeOutcome(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, txerrors.ErrTransactionNotFound):
		status, code = http.StatusNotFound, string(txerrors.TransactionNotFound)
	case errors.Is(err, txerrors.ErrPrivacyViolation):
		status, code = http.StatusForbidden, string(txerrors.PrivacyViolation)
	case errors.Is(err, txerrors.ErrKeyNotFound):
		status, code = http.StatusNotFound, string(txerrors.KeyNotFound)
	case errors.Is(err, txerrors.ErrNoRecipientKeyFound):
		status, code = http.StatusNotFound, string(txerrors.NoRecipientKeyFound)
	case errors.Is(err, txerrors.ErrMalformedPayload):
		status, code = http.StatusBadRequest, string(txerrors.MalformedPayload)
	case errors.Is(err, txerrors.ErrHashCollision):
		status, code = http.StatusConflict, string(txerrors.HashCollision)
	case errors.Is(err, txerrors.ErrRecipientNotInPayload):
		status, code = http.StatusBadRequest, string(txerrors.RecipientNotInPayload)
	case errors.Is(err, txerrors.ErrInternal):
		status, code = http.StatusInternalServerError, string(txerrors.Internal)
	}
	a.log.Warn(r.Context(), "operation_failed", map[string]any{"error": err.Error(), "code": code})
	writeError(w, status, code, err.Error())
	return false
}
