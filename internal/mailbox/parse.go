// Package mailbox carries over the keyword/regex parsing heuristics of
// original_source/services/gmail_monitor.py (_identify_platform,
// _parse_notification_email) and polls a mailbox over IMAP, publishing
// parsed Notification events to the notifyrouter transport — realizing the
// "mailbox poller is external, the core only consumes parsed notification
// events" boundary of spec §1/§6 (SPEC_FULL D.4).
package mailbox

import (
	"regexp"
	"strings"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

var resySenders = []string{"notify@resy.com", "no-reply@resy.com"}
var openTableSenders = []string{"notifications@opentable.com", "no-reply@opentable.com"}

var notifyKeywords = []string{
	"table available", "reservation available", "opening",
	"notify", "spot just opened", "now available",
	"a table is available", "good news",
}

var restaurantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)table at (.+?)(?:\s+is|\s+has|\s+—|\s*-|\.|!)`),
	regexp.MustCompile(`(?i)(.+?)\s*[-—]\s*[Aa] table`),
	regexp.MustCompile(`(?i)at (.+?) (?:on|for)`),
	regexp.MustCompile(`(?i)news.*?(?:at|from)\s+(.+?)(?:\s+is|\.|!)`),
}

// IdentifyPlatform maps a From header to the Resy/OpenTable sender lists.
// Returns "" if the sender is not recognized.
func IdentifyPlatform(fromAddr string) reservation.Platform {
	lower := strings.ToLower(fromAddr)
	for _, s := range resySenders {
		if strings.Contains(lower, s) {
			return reservation.PlatformResy
		}
	}
	for _, s := range openTableSenders {
		if strings.Contains(lower, s) {
			return reservation.PlatformOpenTable
		}
	}
	return ""
}

// ParseNotification extracts a restaurant name from subject/body if the
// message looks like an availability alert, returning ok=false otherwise
// (spec §6: "keyword-gated recognition... regex extraction of restaurant
// name from subject or first 500 chars of body").
func ParseNotification(platform reservation.Platform, emailID, subject, body string) (reservation.Notification, bool) {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)

	isNotify := false
	for _, kw := range notifyKeywords {
		if strings.Contains(subjectLower, kw) || strings.Contains(bodyLower, kw) {
			isNotify = true
			break
		}
	}
	if !isNotify {
		return reservation.Notification{}, false
	}

	restaurantName, ok := extractRestaurantName(subject)
	if !ok {
		truncated := body
		if len(truncated) > 500 {
			truncated = truncated[:500]
		}
		restaurantName, ok = extractRestaurantName(truncated)
	}
	if !ok {
		return reservation.Notification{}, false
	}

	return reservation.Notification{
		Platform:       platform,
		RestaurantName: restaurantName,
		Subject:        subject,
		EmailID:        emailID,
	}, true
}

func extractRestaurantName(text string) (string, bool) {
	for _, pattern := range restaurantPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			name := strings.TrimSpace(m[1])
			if name != "" {
				return name, true
			}
		}
	}
	return "", false
}
