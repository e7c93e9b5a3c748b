package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeysAreNamespaced(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ccflip:lock:fee_sweep", lockKey("fee_sweep"))
	assert.Equal(t, "ccflip:ratelimit:cooldown:0xabc", rateLimitKey("cooldown:0xabc"))
	assert.Equal(t, "ccflip:wager.resolved", channelName("wager.resolved"))
}
