package codes

import (
	"errors"
	"strings"
)

// QRVersion prefixes every scannable payload.
const QRVersion = "VFY1"

// ErrInvalidQRPayload is returned for payloads that are not VFY1|batch|code.
var ErrInvalidQRPayload = errors.New("invalid qr payload")

// QRPayload is the parsed form of a printed QR code.
type QRPayload struct {
	BatchPublicID string
	Code          string
}

// BuildQRPayload formats the string encoded into a code's QR symbol.
func BuildQRPayload(batchPublicID, code string) string {
	return QRVersion + "|" + batchPublicID + "|" + code
}

// ParseQRPayload splits a scanned payload. Exactly three fields are accepted
// and the first must be the literal version tag.
func ParseQRPayload(payload string) (*QRPayload, error) {
	parts := strings.Split(strings.TrimSpace(payload), "|")
	if len(parts) != 3 || parts[0] != QRVersion {
		return nil, ErrInvalidQRPayload
	}
	if parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidQRPayload
	}
	return &QRPayload{BatchPublicID: parts[1], Code: parts[2]}, nil
}
