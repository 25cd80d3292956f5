// Package identity turns bearer tokens into authorization actors.
//
// Tokens only carry the user id. Role, home department and the active flag
// are read from the store on every call, so a role change or deactivation
// takes effect on the next request without revoking tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/observability"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// DefaultTokenTTL is used when Config.TokenTTL is zero
const DefaultTokenTTL = time.Hour

// Config holds the token signing settings
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	TokenTTL time.Duration
}

// Claims are the claims of an access token. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// UserReader loads accounts
type UserReader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Issuer signs access tokens
type Issuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer creates an HS256 token issuer
func NewIssuer(cfg Config) *Issuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{
		key:      []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Sign issues a token for userID
func (i *Issuer) Sign(userID uuid.UUID) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Resolver authenticates tokens and builds scoped actors
type Resolver struct {
	users  UserReader
	scope  *authz.ScopeResolver
	key    []byte
	parser *jwt.Parser
}

// ResolverOption configures a Resolver
type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	now func() time.Time
}

// WithTimeFunc overrides the clock used for expiry checks
func WithTimeFunc(now func() time.Time) ResolverOption {
	return func(o *resolverOptions) {
		o.now = now
	}
}

// NewResolver creates a resolver that verifies tokens signed with cfg.Secret
func NewResolver(cfg Config, users UserReader, scope *authz.ScopeResolver, opts ...ResolverOption) *Resolver {
	o := resolverOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(o.now),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}

	return &Resolver{
		users:  users,
		scope:  scope,
		key:    []byte(cfg.Secret),
		parser: jwt.NewParser(parserOpts...),
	}
}

func unauthenticated(msg string, cause error) error {
	return authz.NewError(authz.KindForbidden, authz.ReasonUnauthenticated, msg, cause)
}

// Authenticate verifies token and returns the actor it names with the
// manager assignment set attached
func (r *Resolver) Authenticate(ctx context.Context, token string) (authz.Actor, error) {
	claims := &Claims{}
	parsed, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return r.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return authz.Actor{}, unauthenticated("token has expired", err)
		}
		return authz.Actor{}, unauthenticated("invalid token", err)
	}
	if !parsed.Valid {
		return authz.Actor{}, unauthenticated("invalid token", nil)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return authz.Actor{}, unauthenticated("invalid token subject", err)
	}
	return r.ActorFor(ctx, userID)
}

// ActorFor loads the current state of userID as an actor. Missing and
// inactive accounts cannot act.
func (r *Resolver) ActorFor(ctx context.Context, userID uuid.UUID) (authz.Actor, error) {
	u, err := r.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authz.Actor{}, unauthenticated("unknown user", nil)
		}
		return authz.Actor{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !u.Active {
		return authz.Actor{}, unauthenticated("account is inactive", nil)
	}

	actor, err := r.scope.Resolve(ctx, u.Actor())
	if err != nil {
		return authz.Actor{}, err
	}
	return actor, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", unauthenticated("missing bearer token", nil)
	}
	return strings.TrimSpace(token), nil
}

type actorKey struct{}

// WithActor stores actor in ctx and tags the context logger with its id
func WithActor(ctx context.Context, actor authz.Actor) context.Context {
	ctx = context.WithValue(ctx, actorKey{}, actor)
	return observability.WithActorID(ctx, actor.ID.String())
}

// ActorFromContext returns the actor stored by WithActor
func ActorFromContext(ctx context.Context) (authz.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(authz.Actor)
	return actor, ok
}
