// Package device summarizes a reporter's client for fraud report evidence.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"

	"fraudengine/pkg/platform/privacy"
)

// Describe builds the reporter device evidence from the request's
// User-Agent and client address. Only the address's network prefix is
// kept. It returns nil when neither is known.
func Describe(userAgentString, clientIP string) map[string]any {
	if userAgentString == "" && clientIP == "" {
		return nil
	}
	out := map[string]any{
		"displayName": DisplayName(userAgentString),
		"fingerprint": Fingerprint(userAgentString),
		"mobile":      false,
		"bot":         false,
	}
	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		out["mobile"] = ua.Mobile()
		out["bot"] = ua.Bot()
	}
	if clientIP != "" {
		out["clientNetwork"] = privacy.AnonymizeIP(clientIP)
	}
	return out
}

// Fingerprint hashes the stable parts of a User-Agent (browser, major
// version, OS, form factor) so reports from the same device correlate.
// IP is left out; it changes too often to identify a device.
func Fingerprint(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	majorVersion := "unknown"
	if major, _, _ := strings.Cut(version, "."); major != "" {
		majorVersion = major
	}

	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	data := fmt.Sprintf("%s|%s|%s|%s", orUnknown(browser), majorVersion, orUnknown(ua.OS()), platform)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// DisplayName renders "Browser on OS", or "Browser on Platform" for mobiles.
func DisplayName(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

func orUnknown(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
