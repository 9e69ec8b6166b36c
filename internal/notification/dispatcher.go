package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"floor-monitor-backend/internal/model"
	"floor-monitor-backend/internal/store"
)

// Store is the slice of the data store the dispatcher needs.
type Store interface {
	CreateAlert(ctx context.Context, alert *model.ProductionAlert) error
	GetAlert(ctx context.Context, id int64) (*model.ProductionAlert, error)
	FindRecentAlert(ctx context.Context, q store.RecentAlertQuery) (*model.ProductionAlert, error)
	UsersByRoles(ctx context.Context, roles []string) ([]model.User, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	GetChannelPreference(ctx context.Context, userID int64) (*model.AlertChannelPreference, error)
	PushSubscriptions(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
	AppendNotificationLog(ctx context.Context, entry *model.NotificationLogEntry) error
}

// DedupPolicy holds the duplicate-suppression windows. Specific alert types
// dedup on machine+type+message-prefix inside the short window; everything
// else dedups on machine+type+severity inside the long one.
type DedupPolicy struct {
	SpecificTypes  map[string]bool
	SpecificWindow time.Duration
	GenericWindow  time.Duration
}

// DefaultDedupPolicy matches the standard floor configuration.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{
		SpecificTypes:  map[string]bool{"teflon_change": true, "quality_test": true},
		SpecificWindow: 2 * time.Hour,
		GenericWindow:  24 * time.Hour,
	}
}

const messagePrefixLen = 32

// Dispatcher fans alerts out to users resolved by role and preference,
// through a pool of workers draining a dispatch job channel.
type Dispatcher struct {
	size    int
	jobs    chan int64
	store   Store
	senders map[string]ChannelSender
	push    PushSender
	webpush *webpush.Options
	dedup   DedupPolicy

	// Bounds the DB work of dedup lookups and per-user dispatch.
	opTimeout time.Duration
}

// NewDispatcher creates a dispatcher with the real channel senders.
func NewDispatcher(size int, s Store, webpushOptions *webpush.Options, dedup DedupPolicy) *Dispatcher {
	return &Dispatcher{
		size:    size,
		jobs:    make(chan int64, size),
		store:   s,
		senders: map[string]ChannelSender{
			ChannelEmail:    &ConsoleSender{Channel: ChannelEmail},
			ChannelSMS:      &ConsoleSender{Channel: ChannelSMS},
			ChannelWhatsApp: &ConsoleSender{Channel: ChannelWhatsApp},
		},
		push:      &WebPushSender{},
		webpush:   webpushOptions,
		dedup:     dedup,
		opTimeout: 10 * time.Second,
	}
}

// SetSender swaps a channel sender. Used to plug real providers and test fakes.
func (d *Dispatcher) SetSender(channel string, sender ChannelSender) {
	d.senders[channel] = sender
}

// SetPushSender swaps the web push sender.
func (d *Dispatcher) SetPushSender(p PushSender) {
	d.push = p
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.size; i++ {
		go d.worker(ctx, i)
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	log.Printf("Dispatch worker %d started", id)
	for {
		select {
		case alertID := <-d.jobs:
			d.dispatchAlert(ctx, alertID)
		case <-ctx.Done():
			log.Printf("Dispatch worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues an alert for fan-out.
func (d *Dispatcher) Dispatch(alertID int64) {
	d.jobs <- alertID
}

// Jobs returns the jobs channel for testing.
func (d *Dispatcher) Jobs() chan int64 {
	return d.jobs
}

// CreateAlert persists and dispatches a new alert, unless a duplicate inside
// the type's suppression window exists, in which case nothing is stored or
// sent and the existing alert's id is returned with created=false.
func (d *Dispatcher) CreateAlert(ctx context.Context, alert *model.ProductionAlert) (int64, bool, error) {
	if existing := d.findDuplicate(ctx, alert); existing != nil {
		log.Printf("Suppressing duplicate %s alert for machine %d (existing alert %d)",
			alert.AlertType, alert.MachineID, existing.ID)
		return existing.ID, false, nil
	}

	if err := d.store.CreateAlert(ctx, alert); err != nil {
		return 0, false, err
	}
	d.Dispatch(alert.ID)
	return alert.ID, true, nil
}

// findDuplicate runs the suppression lookup with a bounded timeout. A failed
// lookup is logged and treated as "no duplicate": a repeat alert beats a
// silently dropped one.
func (d *Dispatcher) findDuplicate(ctx context.Context, alert *model.ProductionAlert) *model.ProductionAlert {
	lookupCtx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	now := time.Now()
	q := store.RecentAlertQuery{MachineID: alert.MachineID, AlertType: alert.AlertType}
	if d.dedup.SpecificTypes[alert.AlertType] {
		q.MessagePrefix = messagePrefix(alert.Message)
		q.Since = now.Add(-d.dedup.SpecificWindow)
	} else {
		q.Severity = alert.Severity
		q.Since = now.Add(-d.dedup.GenericWindow)
	}

	existing, err := d.store.FindRecentAlert(lookupCtx, q)
	if err != nil {
		log.Printf("Warning: duplicate lookup failed for machine %d: %v", alert.MachineID, err)
		return nil
	}
	return existing
}

func messagePrefix(msg string) string {
	if len(msg) > messagePrefixLen {
		return msg[:messagePrefixLen]
	}
	return msg
}

// dispatchAlert resolves targets and notifies each user. Per-user and
// per-channel failures are recorded in the notification log, never raised.
func (d *Dispatcher) dispatchAlert(ctx context.Context, alertID int64) {
	alert, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		log.Printf("Error loading alert %d for dispatch: %v", alertID, err)
		return
	}

	users := d.resolveTargets(ctx, alert)
	if len(users) == 0 {
		log.Printf("Alert %d has no dispatch targets", alertID)
		return
	}

	for _, user := range users {
		d.notifyUser(ctx, alert, user)
	}
}

// resolveTargets returns the users named by the alert's roles, plus any
// explicit target_user_ids from its metadata, deduplicated.
func (d *Dispatcher) resolveTargets(ctx context.Context, alert *model.ProductionAlert) []model.User {
	seen := make(map[int64]bool)
	var targets []model.User

	users, err := d.store.UsersByRoles(ctx, alert.Roles())
	if err != nil {
		log.Printf("Error resolving users for alert %d: %v", alert.ID, err)
	}
	for _, u := range users {
		if !seen[u.ID] {
			seen[u.ID] = true
			targets = append(targets, u)
		}
	}

	for _, id := range explicitTargets(alert.Metadata) {
		if seen[id] {
			continue
		}
		user, err := d.store.GetUser(ctx, id)
		if err != nil || user == nil {
			continue
		}
		seen[id] = true
		targets = append(targets, *user)
	}
	return targets
}

func explicitTargets(metadata string) []int64 {
	if metadata == "" {
		return nil
	}
	var meta struct {
		TargetUserIDs []int64 `json:"target_user_ids"`
	}
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return nil
	}
	return meta.TargetUserIDs
}

// notifyUser sends over every channel the user's preference enables and
// appends one log entry summarizing the attempt. A user whose minimum
// priority exceeds the alert's is skipped entirely.
func (d *Dispatcher) notifyUser(ctx context.Context, alert *model.ProductionAlert, user model.User) {
	pref, err := d.store.GetChannelPreference(ctx, user.ID)
	if err != nil {
		log.Printf("Error loading channel preference for user %d: %v", user.ID, err)
		return
	}
	if pref == nil {
		pref = &model.AlertChannelPreference{
			UserID: user.ID, EmailEnabled: true, SoundEnabled: true, MinPriority: model.PriorityLow,
		}
	}

	if alert.Severity.Level() < pref.MinPriority.Level() {
		return
	}

	subject := fmt.Sprintf("Production alert: machine %d", alert.MachineID)
	var attempted, failures []string

	if pref.EmailEnabled && user.Email != "" {
		attempted = append(attempted, ChannelEmail)
		if err := d.senders[ChannelEmail].Send(ctx, user.Email, subject, alert.Message, alert.Severity); err != nil {
			failures = append(failures, ChannelEmail+": "+err.Error())
		}
	}
	if pref.SMSEnabled && user.Phone != "" {
		attempted = append(attempted, ChannelSMS)
		if err := d.senders[ChannelSMS].Send(ctx, user.Phone, subject, alert.Message, alert.Severity); err != nil {
			failures = append(failures, ChannelSMS+": "+err.Error())
		}
	}
	if pref.WhatsAppEnabled && user.Phone != "" {
		attempted = append(attempted, ChannelWhatsApp)
		if err := d.senders[ChannelWhatsApp].Send(ctx, user.Phone, subject, alert.Message, alert.Severity); err != nil {
			failures = append(failures, ChannelWhatsApp+": "+err.Error())
		}
	}
	if pref.SoundEnabled {
		if sent, errs := d.sendPush(ctx, user.ID, alert.Message); sent {
			attempted = append(attempted, ChannelPush)
			failures = append(failures, errs...)
		}
	}

	if len(attempted) == 0 {
		return
	}

	entry := &model.NotificationLogEntry{
		AlertID:  alert.ID,
		UserID:   user.ID,
		Channels: strings.Join(attempted, ","),
		Status:   "SENT",
		SentAt:   time.Now().UTC(),
	}
	if len(failures) > 0 {
		entry.Status = "FAILED"
		entry.ErrorMessage = strings.Join(failures, "; ")
	}
	if err := d.store.AppendNotificationLog(ctx, entry); err != nil {
		log.Printf("Error appending notification log for alert %d user %d: %v", alert.ID, user.ID, err)
	}
}

// sendPush delivers to each of the user's push subscriptions, deleting the
// expired ones. Returns whether a push was attempted at all.
func (d *Dispatcher) sendPush(ctx context.Context, userID int64, payload string) (bool, []string) {
	subs, err := d.store.PushSubscriptions(ctx, userID)
	if err != nil {
		log.Printf("Error fetching push subscriptions for user %d: %v", userID, err)
		return false, nil
	}
	if len(subs) == 0 {
		return false, nil
	}

	var failures []string
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}
		resp, err := d.push.Send([]byte(payload), wpSub, d.webpush)
		if err != nil {
			failures = append(failures, ChannelPush+": "+err.Error())
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == 410 {
			log.Printf("Push subscription %s is expired. Deleting.", sub.Endpoint)
			if err := d.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
			}
		}
	}
	return true, failures
}
