package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/observability"
	"github.com/platinummonkey/timeguard/pkg/store"
	"github.com/platinummonkey/timeguard/pkg/store/memory"
	"github.com/platinummonkey/timeguard/pkg/store/storetest"
)

var testConfig = Config{
	Secret:   "test-secret-key-that-is-long-enough",
	Issuer:   "timeguard",
	Audience: "timeguard-api",
	TokenTTL: 15 * time.Minute,
}

type fixture struct {
	st       *memory.Store
	issuer   *Issuer
	resolver *Resolver
	dept     *model.MasterRecord
	manager  *model.User
	staff    *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{st: st, issuer: NewIssuer(testConfig)}
	f.dept = storetest.Master(authz.ResourceDepartments, "Ops", nil)
	other := storetest.Master(authz.ResourceDepartments, "Sales", nil)
	f.manager = storetest.User("lead@example.com", authz.RoleManager, &f.dept.ID)
	f.staff = storetest.User("staff@example.com", authz.RoleStaff, &f.dept.ID)
	storetest.Seed(t, st, f.dept, other, f.manager, f.staff)

	require.NoError(t, st.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.ReplaceManagedDepartments(context.Background(), f.manager.ID, []uuid.UUID{other.ID})
	}))

	f.resolver = NewResolver(testConfig, st, authz.NewScopeResolver(st))
	return f
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("valid token resolves the stored role and scope", func(t *testing.T) {
		token, err := f.issuer.Sign(f.manager.ID)
		require.NoError(t, err)

		actor, err := f.resolver.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, f.manager.ID, actor.ID)
		assert.Equal(t, authz.RoleManager, actor.Role)
		require.NotNil(t, actor.HomeDepartmentID)
		assert.Equal(t, f.dept.ID, *actor.HomeDepartmentID)
		assert.Len(t, actor.ManagedDepartments, 1)
	})

	t.Run("role changes apply without a new token", func(t *testing.T) {
		token, err := f.issuer.Sign(f.staff.ID)
		require.NoError(t, err)

		promoted := *f.staff
		promoted.Role = authz.RoleAdmin
		require.NoError(t, f.st.RunInTx(ctx, func(tx store.Tx) error {
			return tx.UpdateUser(ctx, &promoted)
		}))

		actor, err := f.resolver.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, authz.RoleAdmin, actor.Role)
		assert.Empty(t, actor.ManagedDepartments)
	})

	t.Run("inactive accounts cannot act", func(t *testing.T) {
		token, err := f.issuer.Sign(f.staff.ID)
		require.NoError(t, err)

		inactive := *f.staff
		inactive.Active = false
		require.NoError(t, f.st.RunInTx(ctx, func(tx store.Tx) error {
			return tx.UpdateUser(ctx, &inactive)
		}))

		_, err = f.resolver.Authenticate(ctx, token)
		require.Error(t, err)
		assert.True(t, errors.Is(err, authz.ErrForbidden))
		assert.Equal(t, authz.KindForbidden, authz.KindOf(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		token, err := f.issuer.Sign(uuid.New())
		require.NoError(t, err)
		_, err = f.resolver.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, authz.ErrForbidden))
	})
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	expired := NewIssuer(testConfig)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredToken, err := expired.Sign(f.staff.ID)
	require.NoError(t, err)

	otherKey := NewIssuer(Config{Secret: "another-secret", Issuer: testConfig.Issuer, Audience: testConfig.Audience})
	forged, err := otherKey.Sign(f.staff.ID)
	require.NoError(t, err)

	wrongAudience := NewIssuer(Config{Secret: testConfig.Secret, Issuer: testConfig.Issuer, Audience: "billing"})
	misdirected, err := wrongAudience.Sign(f.staff.ID)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   f.staff.ID.String(),
		Issuer:    testConfig.Issuer,
		Audience:  jwt.ClaimStrings{testConfig.Audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"expired", expiredToken, "token has expired"},
		{"wrong key", forged, "invalid token"},
		{"wrong audience", misdirected, "invalid token"},
		{"alg none", unsigned, "invalid token"},
		{"garbage", "not-a-jwt", "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.resolver.Authenticate(ctx, tt.token)
			require.Error(t, err)
			var authzErr *authz.Error
			require.True(t, errors.As(err, &authzErr))
			assert.Equal(t, authz.ReasonUnauthenticated, authzErr.Reason)
			assert.Equal(t, tt.msg, authzErr.Msg)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"bearer   abc", "abc", false},
		{"Basic dXNlcjpwYXNz", "", true},
		{"Bearer", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestActorContext(t *testing.T) {
	actor := authz.Actor{ID: uuid.New(), Role: authz.RoleStaff}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor.ID, got.ID)
	assert.Equal(t, actor.ID.String(), observability.GetActorID(ctx))

	_, ok = ActorFromContext(context.Background())
	assert.False(t, ok)
}
