package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RFC 6238 parameters. Fixed: every common authenticator app ships these defaults.
const (
	totpSecretBytes = 20
	totpPeriod      = 30
	totpDigits      = 6
	totpSkew        = 1 // accept one step either side for clock drift
	totpIssuer      = "Stashd"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a fresh base32-encoded shared secret
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// TOTPProvisionURI builds the otpauth:// URI encoded into the enrollment QR code
func TOTPProvisionURI(secret, account string) string {
	label := url.PathEscape(totpIssuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", totpIssuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", strconv.Itoa(totpDigits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyTOTPCode checks a six-digit code against the shared secret at the given time
func VerifyTOTPCode(secret, code string, now time.Time) (bool, error) {
	raw, err := b32.DecodeString(secret)
	if err != nil {
		return false, fmt.Errorf("malformed TOTP secret: %w", err)
	}
	if len(code) != totpDigits {
		return false, nil
	}

	counter := now.Unix() / totpPeriod
	for step := int64(-totpSkew); step <= totpSkew; step++ {
		c := counter + step
		if c < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(raw, c)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// TOTPCodeAt computes the code for a given instant. Used by the dev harness and tests.
func TOTPCodeAt(secret string, at time.Time) (string, error) {
	raw, err := b32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("malformed TOTP secret: %w", err)
	}
	return hotpCode(raw, at.Unix()/totpPeriod), nil
}

func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}
