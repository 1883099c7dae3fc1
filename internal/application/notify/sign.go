package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// hmacBase64 以 HMAC-SHA256 簽章並輸出 base64。
func hmacBase64(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
