package fleet

import (
	"time"
)

// chatThrottle keeps advisory chat from repeating. Each topic gets at
// most one message per cooldown window; suppressed sends are silent.
type chatThrottle struct {
	cooldown time.Duration
	last     map[string]time.Time

	now func() time.Time
}

func newChatThrottle(cooldown time.Duration) *chatThrottle {
	return &chatThrottle{
		cooldown: cooldown,
		last:     map[string]time.Time{},
		now:      time.Now,
	}
}

func (c *chatThrottle) allow(topic string) bool {
	if c.cooldown <= 0 {
		return true
	}
	t := c.now()
	if prev, ok := c.last[topic]; ok && t.Sub(prev) < c.cooldown {
		return false
	}
	c.last[topic] = t
	return true
}
