package handlers

import "strings"

// clientInfo is what the ingest boundary derives from a User-Agent header.
type clientInfo struct {
	DeviceType     string
	BrowserFamily  string
	BrowserVersion string
	OSFamily       string
}

// browserTokens are checked in order: several engines also claim to be
// Chrome or Safari, so the specific tokens come first.
var browserTokens = []struct {
	token  string
	family string
}{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"SamsungBrowser/", "Samsung Internet"},
	{"Firefox/", "Firefox"},
	{"FxiOS/", "Firefox"},
	{"CriOS/", "Chrome"},
	{"Chrome/", "Chrome"},
	{"Version/", "Safari"},
}

func parseUserAgent(ua string) clientInfo {
	info := clientInfo{
		DeviceType:    deviceType(ua),
		BrowserFamily: "Other",
		OSFamily:      osFamily(ua),
	}
	for _, b := range browserTokens {
		if i := strings.Index(ua, b.token); i >= 0 {
			if b.family == "Safari" && !strings.Contains(ua, "Safari/") {
				continue
			}
			info.BrowserFamily = b.family
			info.BrowserVersion = leadingVersion(ua[i+len(b.token):])
			break
		}
	}
	return info
}

func deviceType(ua string) string {
	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"),
		strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		return "tablet"
	case strings.Contains(ua, "Mobi"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPod"):
		return "mobile"
	default:
		return "desktop"
	}
}

func osFamily(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"), strings.Contains(ua, "iPod"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "AndroidOS"
	case strings.Contains(ua, "CrOS"):
		return "ChromeOS"
	case strings.Contains(ua, "Mac OS X"):
		return "OS X"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

// leadingVersion returns the dotted version number at the start of s, capped
// to the column width.
func leadingVersion(s string) string {
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	v := strings.TrimRight(s[:end], ".")
	if len(v) > 20 {
		v = v[:20]
	}
	return v
}
