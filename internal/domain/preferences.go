package domain

import "time"

// ChannelPreference configures one delivery channel for a user.
// QuietHoursStart/End are wall-clock hours (0-23) in the user's timezone;
// equal values mean no quiet window.
type ChannelPreference struct {
	Enabled         bool `json:"enabled"`
	QuietHoursStart int  `json:"quiet_hours_start"`
	QuietHoursEnd   int  `json:"quiet_hours_end"`
	MaxPerHour      int  `json:"max_per_hour,omitempty"`
	MaxPerDay       int  `json:"max_per_day,omitempty"`
}

// HasQuietHours reports whether a quiet window is configured.
func (p ChannelPreference) HasQuietHours() bool {
	return p.QuietHoursStart != p.QuietHoursEnd
}

// InQuietHours reports whether hour falls inside the quiet window.
// start <= end matches [start, end); start > end wraps past midnight.
func (p ChannelPreference) InQuietHours(hour int) bool {
	if !p.HasQuietHours() {
		return false
	}
	if p.QuietHoursStart <= p.QuietHoursEnd {
		return hour >= p.QuietHoursStart && hour < p.QuietHoursEnd
	}
	return hour >= p.QuietHoursStart || hour < p.QuietHoursEnd
}

// CategoryPreference configures one notification category for a user.
// An empty AllowedChannels list allows every channel.
type CategoryPreference struct {
	Enabled         bool      `json:"enabled"`
	AllowedChannels []Channel `json:"allowed_channels,omitempty"`
}

// Allows reports whether the category admits delivery on ch.
func (p CategoryPreference) Allows(ch Channel) bool {
	if !p.Enabled {
		return false
	}
	if len(p.AllowedChannels) == 0 {
		return true
	}
	for _, allowed := range p.AllowedChannels {
		if allowed == ch {
			return true
		}
	}
	return false
}

// DigestSettings batches low-priority notifications into periodic digests.
type DigestSettings struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency,omitempty"` // daily, weekly
	Hour      int    `json:"hour,omitempty"`
}

// Preferences is the full per-user notification preference record.
type Preferences struct {
	UserID               string                         `json:"user_id"`
	NotificationsEnabled bool                           `json:"notifications_enabled"`
	Channels             map[Channel]ChannelPreference  `json:"channels,omitempty"`
	Categories           map[string]CategoryPreference  `json:"categories,omitempty"`
	Digest               DigestSettings                 `json:"digest"`
	Email                string                         `json:"email,omitempty"`
	Phone                string                         `json:"phone,omitempty"`
	DeviceTokens         []string                       `json:"device_tokens,omitempty"`
	Timezone             string                         `json:"timezone,omitempty"` // IANA name, empty = UTC
	CreatedAt            time.Time                      `json:"created_at"`
	UpdatedAt            time.Time                      `json:"updated_at"`
}

// DefaultPreferences returns the record auto-created on first access:
// everything enabled, no quiet hours, no caps.
func DefaultPreferences(userID string) *Preferences {
	now := time.Now().UTC()
	return &Preferences{
		UserID:               userID,
		NotificationsEnabled: true,
		Channels: map[Channel]ChannelPreference{
			ChannelEmail: {Enabled: true},
			ChannelSMS:   {Enabled: true},
			ChannelPush:  {Enabled: true},
			ChannelInApp: {Enabled: true},
		},
		Categories: map[string]CategoryPreference{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Location resolves the user's timezone, falling back to UTC on absence or
// an unknown name.
func (p *Preferences) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AddDeviceToken registers a push token, deduplicating.
func (p *Preferences) AddDeviceToken(token string) {
	for _, t := range p.DeviceTokens {
		if t == token {
			return
		}
	}
	p.DeviceTokens = append(p.DeviceTokens, token)
}

// RemoveDeviceToken unregisters a push token.
func (p *Preferences) RemoveDeviceToken(token string) {
	for i, t := range p.DeviceTokens {
		if t == token {
			p.DeviceTokens = append(p.DeviceTokens[:i], p.DeviceTokens[i+1:]...)
			return
		}
	}
}
