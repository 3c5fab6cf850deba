package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func buildToken(t *testing.T, issuer string, nbf, exp time.Time) jwt.Token {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"support"}).
		Subject("ops@shop.tn").
		IssuedAt(nbf).
		NotBefore(nbf).
		Expiration(exp).
		Build()
	require.NoError(t, err)
	return tok
}

func TestTokenValidator(t *testing.T) {
	now := time.Now()
	v := TokenValidator{Issuer: "konnect-pay", Audience: "support", ClockSkew: time.Second, Algorithm: jwa.HS256}

	require.NoError(t, v.Validate(buildToken(t, "konnect-pay", now, now.Add(time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(buildToken(t, "other", now, now.Add(time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(buildToken(t, "konnect-pay", now.Add(-2*time.Hour), now.Add(-time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(buildToken(t, "konnect-pay", now.Add(5*time.Minute), now.Add(10*time.Minute)), jwa.HS256, now))
	require.Error(t, v.Validate(buildToken(t, "konnect-pay", now, now.Add(time.Minute)), jwa.RS256, now))
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("s3cret", "konnect-pay", "support")
	signed, err := tokens.Issue("ops@shop.tn", time.Minute)
	require.NoError(t, err)

	subject, err := tokens.Subject(signed)
	require.NoError(t, err)
	require.Equal(t, "ops@shop.tn", subject)

	other := NewTokens("different", "konnect-pay", "support")
	_, err = other.Subject(signed)
	require.Error(t, err)
}

func TestTokensExpired(t *testing.T) {
	tokens := NewTokens("s3cret", "", "")
	issuedAt := time.Now().Add(-time.Hour)
	tokens.Now = func() time.Time { return issuedAt }
	signed, err := tokens.Issue("ops", time.Minute)
	require.NoError(t, err)

	tokens.Now = nil
	_, err = tokens.Subject(signed)
	require.Error(t, err)
}

func TestNewTokensWithoutSecret(t *testing.T) {
	require.Nil(t, NewTokens("  ", "iss", "aud"))
}
