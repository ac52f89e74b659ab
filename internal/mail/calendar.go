package mail

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const icsTimeFormat = "20060102T150405"

// ICS renders a minimal single-event calendar attachment.
func ICS(title string, start, end time.Time, location, description, uid string) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//sheetsched//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:" + time.Now().UTC().Format(icsTimeFormat) + "Z",
		"DTSTART:" + start.UTC().Format(icsTimeFormat) + "Z",
		"DTEND:" + end.UTC().Format(icsTimeFormat) + "Z",
		"SUMMARY:" + escapeICS(title),
		"LOCATION:" + escapeICS(location),
		"DESCRIPTION:" + escapeICS(description),
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// GoogleCalendarLink builds a render?action=TEMPLATE URL for one event.
func GoogleCalendarLink(title string, start, end time.Time, location, details string) string {
	dates := fmt.Sprintf("%sZ/%sZ", start.UTC().Format(icsTimeFormat), end.UTC().Format(icsTimeFormat))
	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", title)
	q.Set("dates", dates)
	q.Set("location", location)
	q.Set("details", details)
	return "https://calendar.google.com/calendar/render?" + q.Encode()
}

func escapeICS(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}
