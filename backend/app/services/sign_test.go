package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

func signForTest(body []byte, secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
