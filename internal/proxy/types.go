package proxy

import (
	"time"

	"github.com/google/uuid"
)

// HealthRecord is the outcome of probing a single endpoint.
type HealthRecord struct {
	Endpoint     string        `json:"endpoint"`
	Region       string        `json:"region"`
	Healthy      bool          `json:"is_healthy"`
	ResponseTime time.Duration `json:"response_time"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// RegionStatus summarizes a probe batch for one region.
type RegionStatus struct {
	Region           string    `json:"region"`
	Healthy          bool      `json:"is_healthy"`
	AvgResponseTime  float64   `json:"avg_response_time"`
	HealthyEndpoints int       `json:"healthy_endpoints"`
	TotalEndpoints   int       `json:"total_endpoints"`
	LastChecked      time.Time `json:"last_checked"`
}

// APIToken is an issued API key and its usage counter.
type APIToken struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Token        string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `json:"is_active"`
	RequestCount int64     `json:"request_count"`
}

// User is the account that owns API tokens. Billing flags are maintained
// elsewhere and only read here.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	FullName        string     `json:"full_name,omitempty"`
	HashedPassword  string     `json:"-"`
	Active          bool       `json:"is_active"`
	Superuser       bool       `json:"is_superuser"`
	HasSubscription bool       `json:"has_subscription"`
	Trial           bool       `json:"is_trial"`
	Deactivated     bool       `json:"is_deactivated"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// InTrial reports whether the user holds a trial that has not expired at now.
func (u User) InTrial(now time.Time) bool {
	return u.Trial && u.ExpiryDate != nil && u.ExpiryDate.After(now)
}

// FetchRequest asks the router to fetch URL, preferring Region.
type FetchRequest struct {
	URL       string
	Region    string
	UserAgent string
	Token     APIToken
}

// UpstreamPayload is the JSON body a worker returns from POST /fetch.
type UpstreamPayload struct {
	Result   *string `json:"result"`
	PublicIP string  `json:"public_ip"`
	DeviceID string  `json:"device_id"`
}

// FetchResult is what the router hands back after a successful fetch.
type FetchResult struct {
	Result     string `json:"result"`
	PublicIP   string `json:"public_ip"`
	DeviceID   string `json:"device_id"`
	RegionUsed string `json:"region_used"`
	Endpoint   string `json:"-"`
	Attempts   int    `json:"-"`
}

// UsageEvent is published after a fetch has been served and counted.
type UsageEvent struct {
	TokenID         string    `json:"token_id"`
	UserID          string    `json:"user_id"`
	URL             string    `json:"url"`
	RegionRequested string    `json:"region_requested"`
	RegionUsed      string    `json:"region_used"`
	EndpointID      string    `json:"endpoint_id"`
	Attempts        int       `json:"attempts"`
	UsageRecorded   bool      `json:"usage_recorded"`
	At              time.Time `json:"at"`
}
