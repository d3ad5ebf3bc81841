// Package queue holds the waiting-entry store for the roulette matchmaker.
// It knows nothing about sessions or media; the matchmaker consumes it to
// produce pairings.
package queue

import "time"

// Profile carries the attributes a partner's filters are checked against.
type Profile struct {
	Age    int      `json:"age,omitempty"`
	Region string   `json:"region,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// Filters is an optional compatibility predicate. The zero value accepts
// anyone. Two entries pair only if each entry's filters accept the other's
// profile.
type Filters struct {
	MinAge int    `json:"min_age,omitempty"`
	MaxAge int    `json:"max_age,omitempty"`
	Region string `json:"region,omitempty"`
	Topic  string `json:"topic,omitempty"`
}

// Accepts reports whether a profile passes the filters.
func (f Filters) Accepts(p Profile) bool {
	if f.MinAge > 0 && p.Age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && p.Age > f.MaxAge {
		return false
	}
	if f.Region != "" && f.Region != p.Region {
		return false
	}
	if f.Topic != "" {
		found := false
		for _, t := range p.Topics {
			if t == f.Topic {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Entry is one waiting user's request to be paired.
type Entry struct {
	UserID     string    `json:"user_id"`
	Profile    Profile   `json:"profile"`
	Filters    Filters   `json:"filters"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Compatible reports mutual filter acceptance between two entries.
func Compatible(a, b *Entry) bool {
	return a.Filters.Accepts(b.Profile) && b.Filters.Accepts(a.Profile)
}
