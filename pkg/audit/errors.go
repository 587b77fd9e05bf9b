package audit

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/allsmog/zkaudit-go/pkg/crypto/curve"
	"github.com/allsmog/zkaudit-go/pkg/crypto/dlog"
	"github.com/allsmog/zkaudit-go/pkg/crypto/edwards"
	"github.com/allsmog/zkaudit-go/pkg/crypto/elgamal"
	"github.com/allsmog/zkaudit-go/pkg/crypto/field"
	"github.com/allsmog/zkaudit-go/pkg/eventlog"
	"github.com/allsmog/zkaudit-go/pkg/storage"
	"github.com/allsmog/zkaudit-go/pkg/whitelist"
)

// statusClientClosed is the de facto status for a client that hung up.
const statusClientClosed = 499

// errorStatus maps error sentinels to responses, first match wins.
var errorStatus = []struct {
	err    error
	status int
}{
	{eventlog.ErrMalformedEvent, http.StatusBadRequest},
	{eventlog.ErrUnknownKind, http.StatusBadRequest},
	{elgamal.ErrMalformedCiphertext, http.StatusBadRequest},
	{edwards.ErrInvalidEncoding, http.StatusBadRequest},
	{edwards.ErrInvalidPoint, http.StatusBadRequest},
	{field.ErrNonResidue, http.StatusBadRequest},
	{curve.ErrInvalidPoint, http.StatusBadRequest},
	{curve.ErrInvalidScalar, http.StatusBadRequest},
	{storage.ErrInvalidKey, http.StatusBadRequest},

	{elgamal.ErrUnknownAuthorityKey, http.StatusForbidden},
	{elgamal.ErrDuplicateAuthorityKey, http.StatusForbidden},

	{whitelist.ErrKeyNotWhitelisted, http.StatusNotFound},

	{storage.ErrAlreadyWhitelisted, http.StatusConflict},
	{storage.ErrTreeFull, http.StatusConflict},
	{whitelist.ErrStalePath, http.StatusConflict},

	{elgamal.ErrAuthorityKeysNotSet, http.StatusPreconditionFailed},

	{dlog.ErrNoMatchFound, http.StatusUnprocessableEntity},
	{dlog.ErrSearchAborted, http.StatusUnprocessableEntity},

	{whitelist.ErrInvalidNodeIndex, http.StatusBadGateway},
}

// statusFor returns the status and the client-facing message for err.
// Server-side failures never expose their text.
func statusFor(err error) (int, string) {
	if canceled(err) {
		return statusClientClosed, "request canceled"
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				return e.status, http.StatusText(e.status)
			}
			return e.status, err.Error()
		}
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, errors.New("empty hex string")
	}
	b, err := hex.DecodeString(s)
	return b, errors.Wrap(err, "decoding hex")
}
