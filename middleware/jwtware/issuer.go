package jwtware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-link"
)

// Issuer mints session tokens for accounts that completed a login.
type Issuer struct {
	key    SigningKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. The algorithm defaults to HS256 and the
// lifetime to 24 hours.
func NewIssuer(key SigningKey, issuer string, ttl time.Duration) *Issuer {
	if key.JWTAlg == "" {
		key.JWTAlg = jwt.SigningMethodHS256.Alg()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		key:    key,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token whose subject is the account id, and its
// expiry.
func (i *Issuer) Issue(account *auth.Account) (string, time.Time, error) {
	if account == nil {
		return "", time.Time{}, errors.New("session token requires an account")
	}

	method := jwt.GetSigningMethod(i.key.JWTAlg)
	if method == nil {
		return "", time.Time{}, errors.New("unknown signing method " + i.key.JWTAlg)
	}

	now := i.now().UTC()
	expires := now.Add(i.ttl)
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   account.ID.String(),
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})

	signed, err := token.SignedString(i.key.Key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}
