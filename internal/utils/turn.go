package utils

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"time"
)

// GenerateTurnCredentials returns time-limited TURN REST credentials for
// userID. The username carries the expiry as a unix timestamp and the
// password is the base64 HMAC-SHA1 of the username keyed by the shared
// secret, the scheme coturn's use-auth-secret checks.
func GenerateTurnCredentials(userID, sharedSecret string, ttl time.Duration, now time.Time) (string, string) {
	expires := now.Add(ttl).Unix()
	username := fmt.Sprintf("%d:%s", expires, userID)

	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return username, password
}
