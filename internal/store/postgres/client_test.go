package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aklo360/cc-sub001/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "postgres://flip:pw@db:5432/ccflip?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "ccflip", User: "flip", Password: "pw"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://flip:p%40ss%2Fw@db:6432/ccflip?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "ccflip", User: "flip", Password: "p@ss/w", SSLMode: "require"}))
}

func TestPayoutSources(t *testing.T) {
	t.Parallel()

	assert.ElementsMatch(t, []string{"deferred", "failed"}, payoutSources(domain.PayoutProcessing))
	assert.ElementsMatch(t, []string{"processing", "deferred", "failed"}, payoutSources(domain.PayoutPaid))
	assert.ElementsMatch(t, []string{"processing"}, payoutSources(domain.PayoutFailed))
	assert.Empty(t, payoutSources(domain.PayoutNone))
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(data), onePendingPerWallet)
}
