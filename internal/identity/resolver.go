package identity

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/echoposthq/echopost/pkg/logging"
)

// mappingStore is the subset of Store the resolver needs.
type mappingStore interface {
	ByContact(ctx context.Context, contactKey string) (*Mapping, error)
	UserIDByPhone(ctx context.Context, variants []string) (string, error)
	Upsert(ctx context.Context, m Mapping) error
}

// ProfileDirectory finds users by phone in the profile store.
type ProfileDirectory interface {
	UserIDByPhone(ctx context.Context, variants []string) (string, error)
}

// Identity is a resolved sender. UserID is empty while the contact has
// no profile match; processing then proceeds anonymously under the
// contact-scoped subject id.
type Identity struct {
	ContactKey string
	UserID     string
	BucketKey  string
}

// Anonymous reports whether no user matched.
func (id Identity) Anonymous() bool { return id.UserID == "" }

// SubjectID is the stable id content is attributed to.
func (id Identity) SubjectID() string {
	if id.UserID != "" {
		return id.UserID
	}
	return "contact_" + id.ContactKey
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Store        mappingStore
	Profiles     ProfileDirectory
	BucketPrefix string
	CacheTTL     time.Duration
	Logger       *logging.Logger
}

// Resolver maps inbound senders to identities. Lookups run mapping
// store first, then the profile directory, in phone-variant order.
// Every failure degrades to the anonymous identity so intake is never
// blocked by resolution problems.
type Resolver struct {
	store    mappingStore
	profiles ProfileDirectory
	cache    *gocache.Cache
	prefix   string
	logger   *logging.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Store == nil {
		panic("identity: mapping store cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	prefix := strings.TrimSpace(cfg.BucketPrefix)
	if prefix == "" {
		prefix = "echopost"
	}
	return &Resolver{
		store:    cfg.Store,
		profiles: cfg.Profiles,
		cache:    gocache.New(ttl, 2*ttl),
		prefix:   prefix,
		logger:   logger.Component("identity"),
	}
}

// Resolve maps a contact to an identity. rawPhones are tried in order,
// each expanded into its lookup variants.
func (r *Resolver) Resolve(ctx context.Context, contactKey string, rawPhones ...string) Identity {
	contactKey = strings.TrimSpace(contactKey)
	if contactKey == "" {
		contactKey = strings.TrimPrefix(Normalize(firstNonEmpty(rawPhones)), "+")
	}
	if contactKey == "" {
		contactKey = "unknown"
	}

	if cached, ok := r.cache.Get(contactKey); ok {
		if id, ok := cached.(Identity); ok && !id.Anonymous() {
			return id
		}
	}

	known, err := r.store.ByContact(ctx, contactKey)
	if err != nil {
		r.logger.Warn("contact lookup failed, proceeding anonymously", "contact_key", contactKey, "error", err)
	}
	if known != nil && known.UserID != "" {
		id := Identity{ContactKey: contactKey, UserID: known.UserID, BucketKey: known.BucketKey}
		r.cache.Set(contactKey, id, gocache.DefaultExpiration)
		return id
	}

	variants := CandidateVariants(rawPhones...)
	userID := r.lookupUser(ctx, variants)

	id := Identity{ContactKey: contactKey, UserID: userID}
	switch {
	case userID != "":
		id.BucketKey = BucketKeyForUser(r.prefix, userID)
	case known != nil && known.BucketKey != "":
		id.BucketKey = known.BucketKey
	default:
		id.BucketKey = BucketKeyForContact(r.prefix, contactKey)
	}

	mapping := Mapping{
		ContactKey: contactKey,
		Phone:      Normalize(firstNonEmpty(rawPhones)),
		UserID:     userID,
		BucketKey:  id.BucketKey,
	}
	if err := r.store.Upsert(ctx, mapping); err != nil {
		r.logger.Warn("mapping upsert failed", "contact_key", contactKey, "error", err)
	}

	r.cache.Set(contactKey, id, gocache.DefaultExpiration)
	return id
}

func (r *Resolver) lookupUser(ctx context.Context, variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	userID, err := r.store.UserIDByPhone(ctx, variants)
	if err != nil {
		r.logger.Warn("phone mapping lookup failed", "error", err)
	}
	if userID != "" {
		return userID
	}
	if r.profiles == nil {
		return ""
	}
	userID, err = r.profiles.UserIDByPhone(ctx, variants)
	if err != nil {
		r.logger.Warn("profile phone lookup failed", "error", err)
		return ""
	}
	return userID
}

// BucketKeyForUser derives the S3 bucket name for a matched user.
func BucketKeyForUser(prefix, userID string) string {
	return sanitizeBucketName(prefix + "-u-" + userID)
}

// BucketKeyForContact derives the S3 bucket name for an anonymous contact.
func BucketKeyForContact(prefix, contactKey string) string {
	return sanitizeBucketName(prefix + "-c-" + contactKey)
}

// sanitizeBucketName forces S3 naming rules: lowercase alphanumerics
// and hyphens, no leading/trailing hyphen, at most 63 characters.
func sanitizeBucketName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == '_' || r == ' ':
			b.WriteRune('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	out = strings.Trim(out, "-")
	if len(out) > 63 {
		out = strings.Trim(out[:63], "-")
	}
	return out
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
