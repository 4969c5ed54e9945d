package notifier

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cooldown drops a notification identical to one delivered within the window.
type Cooldown struct {
	next   Notifier
	window time.Duration
	sent   *expirable.LRU[string, time.Time]
	now    func() time.Time

	mu         sync.Mutex
	suppressed int64
}

// NewCooldown wraps next. size bounds how many recent deliveries are remembered.
func NewCooldown(next Notifier, window time.Duration, size int) *Cooldown {
	if size <= 0 {
		size = 1
	}
	return &Cooldown{
		next:   next,
		window: window,
		sent:   expirable.NewLRU[string, time.Time](size, nil, window),
		now:    time.Now,
	}
}

// Notify forwards n unless the same event for the same subscription went out recently.
// Failed deliveries are not remembered.
func (c *Cooldown) Notify(ctx context.Context, n Notification) error {
	key := cooldownKey(n)

	c.mu.Lock()
	if at, ok := c.sent.Get(key); ok && c.now().Sub(at) < c.window {
		c.suppressed++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.next.Notify(ctx, n); err != nil {
		return err
	}

	c.mu.Lock()
	c.sent.Add(key, c.now())
	c.mu.Unlock()
	return nil
}

// Suppressed returns how many notifications were dropped.
func (c *Cooldown) Suppressed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed
}

// Close closes the wrapped notifier when it holds resources.
func (c *Cooldown) Close() error {
	if closer, ok := c.next.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func cooldownKey(n Notification) string {
	price := "-"
	if n.Listing.Price != nil {
		price = strconv.FormatFloat(*n.Listing.Price, 'f', -1, 64)
	}
	return fmt.Sprintf("%s|%d|%s|%s|%s", n.SubscriberID, n.SubscriptionID, n.Listing.ExternalID, n.Kind, price)
}
