package identio

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tamrel/identio/cache"
	"github.com/tamrel/identio/password"
	"github.com/tamrel/identio/session"
	"github.com/tamrel/identio/token"
	"github.com/tamrel/identio/user"
)

// Builder assembles a Core. Redis and a user store are mandatory; every
// other collaborator is optional and the matching operations degrade or
// fail typed when it is absent.
type Builder struct {
	config Config

	redis     redis.UniversalClient
	userStore user.Store

	auditSink AuditSink
	email     EmailSender
	notifier  Notifier
	oauth     map[user.Provider]OAuthExchanger

	built bool
}

// New starts a builder with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		oauth:  make(map[user.Provider]OAuthExchanger),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store user.Store) *Builder {
	b.userStore = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.email = sender
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithOAuth registers the exchanger for one external provider. Call once
// per provider.
func (b *Builder) WithOAuth(provider user.Provider, exchanger OAuthExchanger) *Builder {
	if b.oauth == nil {
		b.oauth = make(map[user.Provider]OAuthExchanger)
	}
	b.oauth[provider] = exchanger
	return b
}

// Build validates the configuration and wires the core. The builder is
// single-use.
func (b *Builder) Build() (*Core, error) {
	if b.built {
		return nil, errors.New("identio: builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("identio: redis client required")
	}
	if b.userStore == nil {
		return nil, errors.New("identio: user store required")
	}

	cfg := b.config
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.Config{
		TTL:           cfg.Token.TTL,
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	core := &Core{
		config:    cfg,
		users:     b.userStore,
		tokens:    issuer,
		sessions:  session.NewRegistry(b.redis, cfg.Session.KeyPrefix),
		userCache: cache.New(b.redis, cfg.Cache.KeyPrefix, cfg.Cache.TTL, cfg.Timeouts.Cache),
		hasher:    hasher,
		totp:      newTOTPEngine(cfg.TOTP),
		resets:    newResetTokenStore(b.redis),
		mfa:       newMFAChallengeStore(b.redis),
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		email:     b.email,
		notifier:  b.notifier,
		oauth:     b.oauth,
	}

	b.built = true

	return core, nil
}
