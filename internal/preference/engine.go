// Package preference decides whether a notification is deliverable for a
// user at wall time, based on their preference record.
package preference

import (
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// ShouldSend runs the preference gates in order:
//
//  1. urgent priority bypasses everything except the global toggle
//  2. global notifications toggle
//  3. per-channel enabled toggle
//  4. per-category enabled toggle and allowed-channel list
//  5. quiet hours in the user's timezone (high and urgent bypass)
func ShouldSend(prefs *domain.Preferences, ch domain.Channel, category string, priority domain.Priority, now time.Time) bool {
	if priority == domain.PriorityUrgent {
		return prefs.NotificationsEnabled
	}

	if !prefs.NotificationsEnabled {
		return false
	}

	chPref, hasChannel := prefs.Channels[ch]
	if hasChannel && !chPref.Enabled {
		return false
	}

	if category != "" {
		if catPref, ok := prefs.Categories[category]; ok {
			if !catPref.Allows(ch) {
				return false
			}
		}
	}

	if priority != domain.PriorityHigh && hasChannel {
		hour := now.In(prefs.Location()).Hour()
		if chPref.InQuietHours(hour) {
			return false
		}
	}

	return true
}
