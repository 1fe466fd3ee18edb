package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	d := Definition{Name: "  users  ", BaseURL: "http://users:8081/"}
	d.Normalize()

	assert.Equal(t, "users", d.Name)
	assert.Equal(t, "http://users:8081", d.BaseURL)
	assert.Equal(t, DefaultHealthCheckPath, d.HealthCheckPath)
	assert.Equal(t, DefaultTimeoutSeconds, d.TimeoutSeconds)
	assert.Equal(t, DefaultRateLimitPerMinute, d.RateLimitPerMinute)
	assert.Equal(t, StatusUnknown, d.HealthStatus)
}

func TestNormalizeHealthPathSlash(t *testing.T) {
	d := Definition{Name: "a", BaseURL: "http://a", HealthCheckPath: "healthz"}
	d.Normalize()
	assert.Equal(t, "/healthz", d.HealthCheckPath)
	assert.Equal(t, "http://a/healthz", d.HealthURL())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"valid", Definition{Name: "a", BaseURL: "http://a:9000"}, true},
		{"missing name", Definition{BaseURL: "http://a"}, false},
		{"missing url", Definition{Name: "a"}, false},
		{"bad scheme", Definition{Name: "a", BaseURL: "ftp://a"}, false},
		{"no host", Definition{Name: "a", BaseURL: "http://"}, false},
		{"negative timeout", Definition{Name: "a", BaseURL: "http://a", TimeoutSeconds: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.def.Normalize()
			err := tc.def.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	d := &Definition{
		Name:            "a",
		BaseURL:         "http://a",
		Metadata:        map[string]string{"team": "core"},
		LastHealthCheck: &now,
	}
	c := d.Clone()
	c.Metadata["team"] = "other"
	*c.LastHealthCheck = now.Add(time.Hour)

	assert.Equal(t, "core", d.Metadata["team"])
	assert.Equal(t, now, *d.LastHealthCheck)
}
