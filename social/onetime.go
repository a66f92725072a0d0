package social

import (
	"context"
	"strings"

	auth "github.com/goliatone/go-auth-link"
	"github.com/goliatone/go-auth-link/lock"
	goerrors "github.com/goliatone/go-errors"
	bunrepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// OneTimeTokenLogin authenticates an account by redeeming a single use
// token, typically handed out in a magic link.
type OneTimeTokenLogin struct {
	accounts    auth.AccountStore
	locker      lock.Locker
	establisher *SessionEstablisher
	logger      auth.Logger
}

// OneTimeOption configures OneTimeTokenLogin.
type OneTimeOption func(*OneTimeTokenLogin)

// WithOneTimeLogger sets the logger.
func WithOneTimeLogger(logger auth.Logger) OneTimeOption {
	return func(o *OneTimeTokenLogin) {
		o.logger = auth.NormalizeLogger(logger)
	}
}

// WithOneTimeEstablisher sets the establisher running login hooks.
func WithOneTimeEstablisher(establisher *SessionEstablisher) OneTimeOption {
	return func(o *OneTimeTokenLogin) {
		if establisher != nil {
			o.establisher = establisher
		}
	}
}

// NewOneTimeTokenLogin creates the one-time token flow.
func NewOneTimeTokenLogin(accounts auth.AccountStore, locker lock.Locker, opts ...OneTimeOption) *OneTimeTokenLogin {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	o := &OneTimeTokenLogin{
		accounts: accounts,
		locker:   locker,
		logger:   auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.establisher == nil {
		o.establisher = NewSessionEstablisher(nil, WithEstablisherLogger(o.logger))
	}
	return o
}

// Consume redeems token. The token is cleared with a compare-and-clear
// under the account lock so that of two concurrent redemptions only one
// succeeds; the other sees ErrOneTimeTokenNotFound.
func (o *OneTimeTokenLogin) Consume(ctx context.Context, token string) (*auth.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.ErrOneTimeTokenNotFound
	}

	account, err := o.accounts.FindByOneTimeToken(ctx, token)
	if err != nil {
		if bunrepo.IsRecordNotFound(err) {
			return nil, auth.ErrOneTimeTokenNotFound
		}
		return nil, auth.WrapError(err, goerrors.CategoryInternal, "find one time token")
	}

	claimed := false
	err = lock.Do(ctx, o.locker, account.LockKey(), func(ctx context.Context) error {
		ok, err := o.accounts.ClearOneTimeToken(ctx, account.ID, token)
		if err != nil {
			return err
		}
		claimed = ok
		if ok {
			account.OneTimeToken = ""
		}
		return nil
	})
	if err != nil {
		return nil, auth.WrapError(err, goerrors.CategoryOperation, "claim one time token")
	}
	if !claimed {
		o.logger.Debug("one time token for account %s already redeemed", account.ID)
		return nil, auth.ErrOneTimeTokenNotFound
	}

	if err := o.establisher.login(ctx, account, auth.ActivityEventOneTimeLogin); err != nil {
		return nil, err
	}
	return account, nil
}

// Issue stores a fresh token on the account and returns it. Any previous
// token stops working.
func (o *OneTimeTokenLogin) Issue(ctx context.Context, accountID uuid.UUID) (string, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")

	err := lock.Do(ctx, o.locker, auth.LockKey(auth.KindAccount, accountID), func(ctx context.Context) error {
		return o.accounts.SetOneTimeToken(ctx, accountID, token)
	})
	if err != nil {
		return "", auth.WrapError(err, goerrors.CategoryOperation, "issue one time token")
	}
	return token, nil
}
