package services

import (
	"log"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/akinalp/groomnet/models"
	"github.com/akinalp/groomnet/pkg/eventbus"
	"github.com/akinalp/groomnet/pkg/i18n"
)

// Notifier turns failure and event boundaries into user-visible
// notifications. Texts come from the i18n catalog; consumers (the local UI
// hub, tests) subscribe to the bus.
type Notifier struct {
	loc   *i18n.Localizer
	clock clock.Clock
	bus   *eventbus.Bus[models.Notification]
}

// NewNotifier creates a notifier rendering with loc.
func NewNotifier(loc *i18n.Localizer, clk clock.Clock) *Notifier {
	if clk == nil {
		clk = clock.New()
	}
	return &Notifier{
		loc:   loc,
		clock: clk,
		bus:   eventbus.New[models.Notification](),
	}
}

// Notify renders key with params and publishes the notification.
func (n *Notifier) Notify(level models.NotificationLevel, key string, params map[string]string) {
	notif := models.Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Key:       key,
		Message:   n.loc.TWithParams(key, params),
		CreatedAt: n.clock.Now().UTC(),
	}
	log.Printf("[notify] %s %s: %s", level, key, notif.Message)
	n.bus.Publish(notif)
}

// Subscribe returns a channel of notifications and its cancel function.
func (n *Notifier) Subscribe() (<-chan models.Notification, func()) {
	return n.bus.Subscribe()
}
