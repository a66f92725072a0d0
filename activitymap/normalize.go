// Package activitymap turns link activity events into a flat actor/verb/object
// record that audit pipelines and feeds can consume without knowing the
// engine's types.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-link"
)

const (
	// MetadataKeyProvider stores the provider type of the identity involved.
	MetadataKeyProvider = "provider"
	// MetadataKeyAccountID stores the account id when the object is an identity.
	MetadataKeyAccountID = "account_id"
)

const (
	defaultChannel = "auth-link"
	defaultActorID = "system"

	ObjectIdentity = "identity"
	ObjectAccount  = "account"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
}

// Normalize converts an auth.ActivityEvent into the normalized shape. The
// account is the actor; the identity is the object when the event names
// one, otherwise the account itself.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	accountID := strings.TrimSpace(event.AccountID)
	identityID := strings.TrimSpace(event.IdentityID)

	out := Normalized{
		ActorID:    firstNonEmpty(accountID, options.actorFallback),
		Verb:       string(event.EventType),
		Channel:    options.channel,
		Metadata:   cloneMap(event.Metadata),
		OccurredAt: event.OccurredAt,
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now().UTC()
	}

	switch {
	case identityID != "":
		out.ObjectType = ObjectIdentity
		out.ObjectID = identityID
		if accountID != "" {
			out.Metadata = setDefault(out.Metadata, MetadataKeyAccountID, accountID)
		}
	case accountID != "":
		out.ObjectType = ObjectAccount
		out.ObjectID = accountID
	}

	if provider := auth.NormalizeProviderType(event.Provider); provider != "" {
		out.Metadata = setDefault(out.Metadata, MetadataKeyProvider, provider)
	}

	return out
}

// WithChannel sets the channel for normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithActorFallback sets the actor id used for events without an account.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// Sink adapts a consumer of normalized records to auth.ActivitySink.
func Sink(fn func(ctx context.Context, record Normalized) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, Normalize(event, opts...))
	})
}

func setDefault(metadata map[string]any, key string, value any) map[string]any {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, exists := metadata[key]; !exists {
		metadata[key] = value
	}
	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
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
