package domain

import "time"

// Subscription is a registered subscriber URL interested in one or more
// trigger kinds. EventTypes is exact-match membership, no wildcards.
type Subscription struct {
	ID                 string    `json:"id"`
	SubscriberURL      string    `json:"subscriber_url"`
	Secret             string    `json:"secret,omitempty"`
	Active             bool      `json:"active"`
	EventTypes         []string  `json:"event_types"`
	RateLimitPerSecond int       `json:"rate_limit_per_second"`
	TimeoutSeconds     int       `json:"timeout_seconds"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WantsEvent reports whether the subscription should receive deliveries for
// the given trigger kind. Inactive subscriptions never match.
func (s Subscription) WantsEvent(t TriggerEvent) bool {
	if !s.Active {
		return false
	}
	for _, et := range s.EventTypes {
		if et == string(t) {
			return true
		}
	}
	return false
}

type CreateSubscriptionRequest struct {
	SubscriberURL      string   `json:"subscriber_url"`
	EventTypes         []string `json:"event_types"`
	RateLimitPerSecond int      `json:"rate_limit_per_second"`
	TimeoutSeconds     int      `json:"timeout_seconds"`
}

type UpdateSubscriptionRequest struct {
	SubscriberURL      *string   `json:"subscriber_url,omitempty"`
	Active             *bool     `json:"active,omitempty"`
	EventTypes         *[]string `json:"event_types,omitempty"`
	RateLimitPerSecond *int      `json:"rate_limit_per_second,omitempty"`
	TimeoutSeconds     *int      `json:"timeout_seconds,omitempty"`
}

// CreateSubscriptionResponse is the only place the signing secret is returned.
type CreateSubscriptionResponse struct {
	ID            string `json:"id"`
	SubscriberURL string `json:"subscriber_url"`
	Secret        string `json:"secret"`
}
