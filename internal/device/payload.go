package device

import (
	"encoding/base64"
	"strconv"
	"strings"
)

const authPayloadVersion = "v2"

// AuthPayload is the handshake statement signed by the device key.
type AuthPayload struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string
	Nonce      string
}

// String renders the pipe-delimited form the gateway verifies:
// v2|deviceId|clientId|clientMode|role|scopes|signedAtMs|token|nonce
func (p AuthPayload) String() string {
	return strings.Join([]string{
		authPayloadVersion,
		p.DeviceID,
		p.ClientID,
		p.ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		strconv.FormatInt(p.SignedAtMs, 10),
		p.Token,
		p.Nonce,
	}, "|")
}

func (p AuthPayload) Bytes() []byte {
	return []byte(p.String())
}

// EncodeBase64URL is the unpadded URL-safe encoding used for keys and
// signatures on the wire.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
