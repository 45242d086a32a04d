package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Auth signs requests with the venue's HMAC-SHA256 scheme: the signature
// covers timestamp + api key + params, keyed on the API secret.
type Auth struct {
	apiKey    string
	apiSecret string
}

// NewAuth creates an Auth instance from the configured API key pair.
func NewAuth(apiKey, apiSecret string) *Auth {
	return &Auth{apiKey: apiKey, apiSecret: apiSecret}
}

// APIKey returns the configured API key, sent as a plain header.
func (a *Auth) APIKey() string {
	return a.apiKey
}

// Sign computes the request signature and returns it alongside the
// millisecond timestamp used to compute it. params is the raw query string
// for GET requests or the raw JSON body for POST requests.
func (a *Auth) Sign(params string) (signature string, timestampMs int64) {
	timestampMs = time.Now().UnixMilli()
	signStr := strconv.FormatInt(timestampMs, 10) + a.apiKey + params

	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(signStr))
	return hex.EncodeToString(mac.Sum(nil)), timestampMs
}
