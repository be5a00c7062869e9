package security

import (
	"regexp"
	"strings"
)

var (
	mnemonicPattern = regexp.MustCompile(`(?i)\b(mnemonic|seed|private_key|owner_secret)["\s:=]+["']?[^"'\s,}]+["']?`)
	hexKeyPattern   = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
	walletPattern   = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	accountPattern  = regexp.MustCompile(`\b[0-9]{10}\b`)

	sensitiveHeaders = []string{"authorization", "x-api-key", "0x-api-key", "x-rail-signature", "cookie"}
)

// MaskString redacts key material and shortens account numbers and addresses in free text.
func MaskString(s string) string {
	s = mnemonicPattern.ReplaceAllString(s, "$1: ***REDACTED***")
	s = hexKeyPattern.ReplaceAllString(s, "0x***REDACTED***")
	s = walletPattern.ReplaceAllStringFunc(s, MaskAddress)
	s = accountPattern.ReplaceAllStringFunc(s, MaskAccountNumber)
	return s
}

// MaskAccountNumber keeps the last 4 digits of a bank account number.
func MaskAccountNumber(account string) string {
	if len(account) <= 4 {
		return strings.Repeat("*", len(account))
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}

// MaskAddress shows the first 6 and last 4 characters of a chain address.
func MaskAddress(addr string) string {
	if len(addr) < 10 {
		return "0x****"
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// MaskAPIKey shows only the first 4 characters.
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

// RedactHeaders flattens headers for logging with credentials removed.
func RedactHeaders(headers map[string][]string) map[string]string {
	redacted := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		sensitive := false
		for _, h := range sensitiveHeaders {
			if lower == h {
				sensitive = true
				break
			}
		}
		switch {
		case sensitive:
			redacted[k] = "***REDACTED***"
		case len(v) > 0:
			redacted[k] = v[0]
		}
	}
	return redacted
}
