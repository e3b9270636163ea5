// Package fingerprint derives a browser-agnostic identifier for one person
// on one device from a network address and a user-agent string.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// UnknownDevice is the signature used when a user agent yields no usable
// device signals.
const UnknownDevice = "unknown-device"

// Platform words.
const (
	PlatformMobile = "mobile"
	Platform64     = "64-bit"
	Platform32     = "32-bit"
)

var (
	arch64Tokens = []string{"x86_64", "x64", "win64", "wow64", "amd64", "arm64", "aarch64"}
	arch32Tokens = []string{"i386", "i686", "win32", "x86;", "x86)"}
)

// Device holds the coarse signals kept from a user agent. Browser name and
// version are never part of it.
type Device struct {
	OS        string
	OSVersion string
	Platform  string
}

// Signature renders d as a stable string.
func (d Device) Signature() string {
	if d.OS == "" && d.Platform == "" {
		return UnknownDevice
	}
	parts := []string{d.OS, d.OSVersion, d.Platform}
	return strings.ToLower(strings.Join(parts, "|"))
}

// ParseDevice extracts device signals from a user-agent header.
func ParseDevice(userAgent string) Device {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Device{}
	}

	ua := useragent.New(userAgent)
	info := ua.OSInfo()

	d := Device{
		OS:        strings.TrimSpace(info.Name),
		OSVersion: majorVersion(info.Version),
		Platform:  platformWord(ua, userAgent),
	}
	if d.OS == "" {
		d.OSVersion = ""
	}
	return d
}

// DeviceSignature returns the signature for a user-agent header.
func DeviceSignature(userAgent string) string {
	return ParseDevice(userAgent).Signature()
}

// Generate returns the hex SHA-256 of the source address joined with the
// device signature. It is pure and deterministic.
func Generate(sourceAddress, userAgent string) string {
	sum := sha256.Sum256([]byte(sourceAddress + "#" + DeviceSignature(userAgent)))
	return hex.EncodeToString(sum[:])
}

// majorVersion keeps only the leading version component. Browsers on the same
// machine disagree on minor OS versions ("10_15_7" vs "10.15").
func majorVersion(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexAny(v, "._ "); i >= 0 {
		return v[:i]
	}
	return v
}

func platformWord(ua *useragent.UserAgent, raw string) string {
	if ua.Mobile() {
		return PlatformMobile
	}
	lower := strings.ToLower(raw)
	for _, tok := range arch64Tokens {
		if strings.Contains(lower, tok) {
			return Platform64
		}
	}
	for _, tok := range arch32Tokens {
		if strings.Contains(lower, tok) {
			return Platform32
		}
	}
	return ""
}
