// Package activitymap flattens session activity events into actor, verb and
// object records for audit pipelines.
package activitymap

import (
	"context"
	"time"

	auth "github.com/goliatone/go-session-auth"
)

const (
	// Channel tags every record produced by this package
	Channel = "auth"
	// ObjectType is the object kind of every record, events always target
	// an account
	ObjectType = "account"
	// AnonymousActor stands in for events that name no account, such as a
	// failed login for an unknown email
	AnonymousActor = "anonymous"

	// MetadataKeyEmail holds the account email when the event carries one
	MetadataKeyEmail = "email"
	// MetadataKeySubjectKey is set by flows that reject a token before the
	// account it names is loaded
	MetadataKeySubjectKey = "subject_key"
)

// Normalized is one audit record
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Normalize maps event onto a record. The acting account is the event
// subject. A rejected refresh token names its subject only in metadata,
// so the record targets that account with an anonymous actor.
func Normalize(event auth.ActivityEvent) Normalized {
	record := Normalized{
		ActorID:    AnonymousActor,
		Verb:       string(event.EventType),
		ObjectType: ObjectType,
		ObjectID:   event.SubjectKey,
		Channel:    Channel,
		Metadata:   recordMetadata(event),
		OccurredAt: event.OccurredAt,
	}

	if event.SubjectKey != "" {
		record.ActorID = event.SubjectKey
	} else if subject, ok := event.Metadata[MetadataKeySubjectKey].(string); ok {
		record.ObjectID = subject
	}

	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now().UTC()
	}

	return record
}

// Sink normalizes every recorded event and hands it to publish
func Sink(publish func(context.Context, Normalized) error) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if publish == nil {
			return nil
		}
		return publish(ctx, Normalize(event))
	})
}

// recordMetadata copies the event metadata so sinks never share the map the
// flow built, and adds the email
func recordMetadata(event auth.ActivityEvent) map[string]any {
	if len(event.Metadata) == 0 && event.Email == "" {
		return nil
	}

	out := make(map[string]any, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		out[k] = v
	}

	if _, set := out[MetadataKeyEmail]; !set && event.Email != "" {
		out[MetadataKeyEmail] = event.Email
	}

	return out
}
