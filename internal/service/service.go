package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HealthStatus is the last observed probe outcome for a backend.
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "unknown"
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Defaults applied by Normalize when a field is left zero.
const (
	DefaultHealthCheckPath    = "/health"
	DefaultTimeoutSeconds     = 30
	DefaultRateLimitPerMinute = 100
)

// ErrValidation marks a malformed definition (missing or out-of-range field).
var ErrValidation = errors.New("invalid service definition")

// Definition is the routing and policy configuration of one backend service.
// Name is the stable routing key and must be unique within a registry snapshot.
type Definition struct {
	ID                 string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name               string            `json:"name" yaml:"name"`
	DisplayName        string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	BaseURL            string            `json:"base_url" yaml:"base_url"`
	HealthCheckPath    string            `json:"health_check_path" yaml:"health_check_path"`
	TimeoutSeconds     int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	IsActive           bool              `json:"is_active" yaml:"is_active"`
	Description        string            `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	HealthStatus    HealthStatus `json:"health_status" yaml:"health_status,omitempty"`
	LastHealthCheck *time.Time   `json:"last_health_check,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Normalize fills defaulted fields in place. Call before Validate.
func (d *Definition) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.BaseURL = strings.TrimRight(strings.TrimSpace(d.BaseURL), "/")
	if d.HealthCheckPath == "" {
		d.HealthCheckPath = DefaultHealthCheckPath
	}
	if !strings.HasPrefix(d.HealthCheckPath, "/") {
		d.HealthCheckPath = "/" + d.HealthCheckPath
	}
	if d.TimeoutSeconds == 0 {
		d.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if d.RateLimitPerMinute == 0 {
		d.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if d.HealthStatus == "" {
		d.HealthStatus = StatusUnknown
	}
}

// Validate reports ErrValidation-wrapped errors for required fields.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if d.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", ErrValidation)
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base_url: %v", ErrValidation, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url must be an http(s) URL with host", ErrValidation)
	}
	if d.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must be positive", ErrValidation)
	}
	if d.RateLimitPerMinute < 0 {
		return fmt.Errorf("%w: rate_limit_per_minute must be positive", ErrValidation)
	}
	return nil
}

// Timeout returns the per-request forwarding timeout for this backend.
func (d *Definition) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// HealthURL is the absolute probe target.
func (d *Definition) HealthURL() string {
	return d.BaseURL + d.HealthCheckPath
}

// Clone returns a deep copy so callers can hand definitions out without
// sharing the metadata map.
func (d *Definition) Clone() *Definition {
	out := *d
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	if d.LastHealthCheck != nil {
		t := *d.LastHealthCheck
		out.LastHealthCheck = &t
	}
	return &out
}

// Stats aggregates definition counts by state.
type Stats struct {
	Total     int `json:"total_services"`
	Active    int `json:"active_services"`
	Healthy   int `json:"healthy_services"`
	Unhealthy int `json:"unhealthy_services"`
	Unknown   int `json:"unknown_services"`
}
