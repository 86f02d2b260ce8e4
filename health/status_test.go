package health

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticReporter Status

func (s staticReporter) Health() Status { return Status(s) }

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty", nil, "healthy"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, "healthy"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, "degraded"},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.expected, got.Status)
			assert.Equal(t, tt.expected == "healthy", got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestCollect(t *testing.T) {
	status := Collect("controlbus",
		staticReporter(NewHealthy("sm", "executing")),
		staticReporter(NewDegraded("bridge", "reconnecting")))

	assert.True(t, status.IsDegraded())
	assert.Equal(t, "sm", status.SubStatuses[0].Component)
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("ep", nil).IsHealthy())

	err := fmt.Errorf("dial nats://10.0.0.1:4222 failed: token=abc123")
	status := FromError("bridge", err)
	assert.True(t, status.IsUnhealthy())
	assert.NotContains(t, status.Message, "10.0.0.1")
	assert.NotContains(t, status.Message, "abc123")
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		input    string
		contains string
		absent   string
	}{
		{"open /etc/controlbus/secret.yaml", "[PATH]", "/etc/controlbus"},
		{"connect http://example.com/x", "[URL]", "example.com"},
		{"from 192.168.1.100", "[IP]", "192.168.1.100"},
		{"password=hunter2", "[REDACTED]", "hunter2"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeErrorMessage(tt.input)
			assert.Contains(t, got, tt.contains)
			assert.NotContains(t, got, tt.absent)
		})
	}
	assert.Empty(t, sanitizeErrorMessage(""))
}
