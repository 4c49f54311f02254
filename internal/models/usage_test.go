package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserUsage_IncrementRequestCount(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	usage := &UserUsage{}

	const n = 50
	prev := usage.LastUpdated
	for i := 0; i < n; i++ {
		// Every third timestamp arrives out of order
		at := start.Add(time.Duration(i) * time.Second)
		if i%3 == 0 {
			at = start
		}
		usage.IncrementRequestCount(at)
		assert.False(t, usage.LastUpdated.Before(prev), "LastUpdated must not decrease")
		prev = usage.LastUpdated
	}

	assert.Equal(t, n, usage.RequestCount)
	assert.Equal(t, start.Add(49*time.Second), usage.LastUpdated)
}

func TestUserUsage_HasExceededLimit(t *testing.T) {
	usage := &UserUsage{RequestCount: 99}
	assert.False(t, usage.HasExceededLimit(100))
	usage.RequestCount = 100
	assert.True(t, usage.HasExceededLimit(100))
}

func TestUsagePeriod(t *testing.T) {
	// 23:30 on Jan 31 in UTC-5 is already February in UTC
	loc := time.FixedZone("EST", -5*60*60)
	year, month := UsagePeriod(time.Date(2026, 1, 31, 23, 30, 0, 0, loc))
	assert.Equal(t, 2026, year)
	assert.Equal(t, 2, month)

	year, month = UsagePeriod(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC))
	assert.Equal(t, 2025, year)
	assert.Equal(t, 12, month)
}

func TestServerInstance_HasLiveContainer(t *testing.T) {
	id := "ctr-1"
	empty := ""

	assert.False(t, (&ServerInstance{Status: ServerStatusRunning}).HasLiveContainer(), "no container id")
	assert.False(t, (&ServerInstance{Status: ServerStatusRunning, ContainerInstanceID: &empty}).HasLiveContainer())
	assert.False(t, (&ServerInstance{Status: ServerStatusStopped, ContainerInstanceID: &id}).HasLiveContainer())
	assert.True(t, (&ServerInstance{Status: ServerStatusFailed, ContainerInstanceID: &id}).HasLiveContainer())
	assert.True(t, (&ServerInstance{Status: ServerStatusRunning, ContainerInstanceID: &id}).HasLiveContainer())
}
