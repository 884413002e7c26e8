package mesh

import "time"

// UserProfile holds per-sender state keyed by mesh node id. Profiles are
// created on first-seen message and refreshed on every subsequent one; the
// router never deletes them.
type UserProfile struct {
	NodeID    string `json:"nodeId"`
	LongName  string `json:"longName,omitempty"`
	ShortName string `json:"shortName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`

	Tags          []string `json:"tags,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`

	LastSeen time.Time `json:"lastSeen"`

	// Last-known position, when the node has reported one.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Altitude  float64 `json:"altitude,omitempty"`
	HasFix    bool    `json:"hasFix,omitempty"`
}

// HasTag reports whether the profile carries the named tag.
func (u *UserProfile) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasPermission reports whether the profile carries the named permission.
func (u *UserProfile) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Altitude above which a node is assumed to be airborne. Used by the
// classifier's aircraft fallback.
const AirborneAltitudeMeters = 3000.0

// LikelyAirborne reports whether the profile's last fix suggests an aircraft.
func (u *UserProfile) LikelyAirborne() bool {
	return u.HasFix && u.Altitude >= AirborneAltitudeMeters
}
