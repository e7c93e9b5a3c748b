package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/domain"
)

func TestAuditTable(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := auditTable([]domain.AuditEntry{
		{ID: 7, Event: domain.EventPayoutDeferred, Detail: map[string]any{"commitment_id": "c-1"}, CreatedAt: at},
	})

	require.Len(t, data, 2)
	assert.Equal(t, []string{"ID", "Time", "Event", "Detail"}, data[0])
	assert.Equal(t, []string{"7", "2026-03-01T12:00:00Z", "payout.deferred", `{"commitment_id":"c-1"}`}, data[1])
}
