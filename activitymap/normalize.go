package activitymap

import (
	"context"
	"strings"
	"time"

	accounts "github.com/goliatone/go-accounts"
)

const (
	// MetadataKeyActorType stores accounts.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromState stores the account state before a transition.
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the account state after a transition.
	MetadataKeyToState = "to_state"
)

const (
	defaultChannel    = "accounts"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Record is a transport agnostic activity shape for audit logs and feeds.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization.
type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
	objectID      func(accounts.ActivityEvent) string
}

// WithChannel sets the channel of every record.
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type of every record.
func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectID overrides how the object id is read from an event.
func WithObjectID(resolver func(accounts.ActivityEvent) string) Option {
	return func(o *options) {
		o.objectID = resolver
	}
}

// WithActorFallback sets the actor id used when the event names neither
// an actor nor an account.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// Normalize converts an accounts.ActivityEvent into a Record. The event's
// metadata is copied, never modified.
func Normalize(event accounts.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	objectID := strings.TrimSpace(event.UserID)
	if o.objectID != nil {
		objectID = strings.TrimSpace(o.objectID(event))
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   objectID,
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink returns an accounts.ActivitySink that hands normalized records to fn.
func Sink(fn func(ctx context.Context, record Record) error, opts ...Option) accounts.ActivitySink {
	return accounts.ActivitySinkFunc(func(ctx context.Context, event accounts.ActivityEvent) error {
		return fn(ctx, Normalize(event, opts...))
	})
}

func metadata(event accounts.ActivityEvent) map[string]any {
	out := map[string]any{}
	for k, v := range event.Metadata {
		out[k] = v
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := out[MetadataKeyActorType]; !exists {
			out[MetadataKeyActorType] = actorType
		}
	}

	if event.FromState != "" {
		out[MetadataKeyFromState] = string(event.FromState)
	}

	if event.ToState != "" {
		out[MetadataKeyToState] = string(event.ToState)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
