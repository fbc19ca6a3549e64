package requestcontext

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// DeviceName turns a User-Agent header into a short "<browser> on <os>" label.
func DeviceName(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return unknownDevice
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()
	if browser == "" && os == "" {
		return unknownDevice
	}
	return strings.TrimSpace(fmt.Sprintf("%s on %s", browser, os))
}

// Origin describes who issued the current request, e.g.
// "Firefox on Linux x86_64 from 10.0.0.7 at 2026-01-02T15:04:05Z".
// It is empty outside an HTTP request.
func Origin(ctx context.Context) string {
	ip, ua := ClientIP(ctx), UserAgent(ctx)
	if ip == "" && ua == "" {
		return ""
	}
	origin := DeviceName(ua)
	if ip != "" {
		origin += " from " + ip
	}
	return origin + " at " + Now(ctx).UTC().Format(time.RFC3339)
}
