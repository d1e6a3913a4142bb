package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// SignatureHeader carries the HMAC of the webhook body
const SignatureHeader = "X-Hub-Signature-256"

// VerifyChallenge answers the subscription handshake. It returns the
// challenge to echo with 200, 403 for a wrong mode or token and 400 when
// parameters are missing.
func VerifyChallenge(query url.Values, verifyToken string) (string, int) {
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	if mode == "" || token == "" {
		return "", http.StatusBadRequest
	}
	if mode != "subscribe" || verifyToken == "" ||
		!hmac.Equal([]byte(token), []byte(verifyToken)) {
		return "", http.StatusForbidden
	}
	return query.Get("hub.challenge"), http.StatusOK
}

// VerifySignature checks a "sha256=<hex>" signature against the body
func VerifySignature(body []byte, signature, appSecret string) bool {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || appSecret == "" {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, sign(body, appSecret))
}

// Sign returns the signature header value for body
func Sign(body []byte, appSecret string) string {
	return "sha256=" + hex.EncodeToString(sign(body, appSecret))
}

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
