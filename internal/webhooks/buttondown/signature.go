package buttondownwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

// VerifySignature accepts "sha256=<hex>" or a bare base64 digest.
func VerifySignature(payload []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	digest := mac.Sum(nil)

	if hexSig, ok := strings.CutPrefix(header, "sha256="); ok {
		expected := hex.EncodeToString(digest)
		return hmac.Equal([]byte(expected), []byte(strings.ToLower(hexSig)))
	}
	expected := base64.StdEncoding.EncodeToString(digest)
	return hmac.Equal([]byte(expected), []byte(header))
}

// Sign renders the hex form accepted by VerifySignature.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// DeliveryID derives a stable event id from the raw body.
func DeliveryID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
