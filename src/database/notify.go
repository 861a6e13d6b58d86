package database

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"signalbot/src/utils/errors"
)

// Notification is a decoded pg_notify payload of the form "objectId;payload".
type Notification struct {
	Channel  string
	ObjectId string
	Payload  string
}

type NotificationManager struct {
	listener    *pq.Listener
	subscribers map[string]map[string]chan Notification // channel -> subscriberId -> chan
	mu          sync.RWMutex
}

func NewNotificationManager(db *gorm.DB) (*NotificationManager, error) {
	dialector, ok := db.Config.Dialector.(*postgres.Dialector)
	if !ok {
		return nil, errors.New("notifications need a postgres dialector")
	}
	listener := pq.NewListener(dialector.DSN, 10*time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("Notification listener event", "event", event, "error", err)
		}
	})

	nm := &NotificationManager{
		listener:    listener,
		subscribers: make(map[string]map[string]chan Notification),
	}

	go nm.listen()

	return nm, nil
}

func (nm *NotificationManager) listen() {
	for notification := range nm.listener.Notify {
		// nil after a reconnect
		if notification == nil {
			continue
		}
		nm.dispatch(notification.Channel, notification.Extra)
	}
}

func (nm *NotificationManager) dispatch(channel, payload string) {
	objectId, msg, ok := strings.Cut(payload, ";")
	if !ok {
		slog.Error("Invalid payload format", "payload", payload)
		return
	}

	nm.mu.RLock()
	defer nm.mu.RUnlock()

	for subscriberId, ch := range nm.subscribers[channel] {
		select {
		case ch <- Notification{Channel: channel, ObjectId: objectId, Payload: msg}:
		default:
			slog.Warn("Notification channel is full, skipping", "channel", channel, "subscriber", subscriberId)
		}
	}
}

// Subscribe listens on channel until ctx is done, then closes the returned channel.
func (nm *NotificationManager) Subscribe(ctx context.Context, channel string) (<-chan Notification, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if _, ok := nm.subscribers[channel]; !ok {
		if err := nm.listener.Listen(channel); err != nil {
			return nil, errors.Wrapf(err, "failed to listen on channel %s", channel)
		}
		nm.subscribers[channel] = make(map[string]chan Notification)
	}

	subscriberId := uuid.NewString()
	ch := make(chan Notification, 10)
	nm.subscribers[channel][subscriberId] = ch

	go func() {
		<-ctx.Done()
		if err := nm.Unsubscribe(channel, subscriberId); err != nil {
			slog.Warn("Failed to unsubscribe", "channel", channel, "error", err)
		}
	}()

	slog.Info("Subscribed to channel", "channel", channel, "subscriberId", subscriberId)
	return ch, nil
}

func (nm *NotificationManager) Unsubscribe(channel string, subscriberId string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	subs, ok := nm.subscribers[channel]
	if !ok {
		return errors.Newf("no subscribers for channel %s", channel)
	}
	if ch, exists := subs[subscriberId]; exists {
		close(ch)
		delete(subs, subscriberId)
	}

	if len(subs) == 0 {
		delete(nm.subscribers, channel)
		if err := nm.listener.Unlisten(channel); err != nil {
			return errors.Wrapf(err, "failed to unlisten on channel %s", channel)
		}
	}
	return nil
}

func (nm *NotificationManager) Close() error {
	nm.mu.Lock()
	for channel, subs := range nm.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(nm.subscribers, channel)
	}
	nm.mu.Unlock()

	_ = nm.listener.UnlistenAll()
	return nm.listener.Close()
}

func Notify(db *gorm.DB, channel string, objectId string, payload string) error {
	msg := objectId + ";" + payload
	if err := db.Exec("SELECT pg_notify(?, ?)", channel, msg).Error; err != nil {
		return errors.Wrap(err, "failed to send notification")
	}
	return nil
}
