package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hookpay/clearnode-go/pkg/signer"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// Settings configures the policy requested during authentication.
type Settings struct {
	AppName     string
	Scope       string
	Application string
	ExpireDays  int
	Allowances  []wire.Allowance
}

// Session is the set of claims sent in auth_request. It is rebuilt for every
// challenge-path attempt and never modified afterwards.
type Session struct {
	Address     string
	SessionKey  string
	AppName     string
	Scope       string
	Application string
	Allowances  []wire.Allowance
	Expire      int64
}

// NewSession builds the claims for one attempt. Expiry is ExpireDays from now.
func NewSession(s Settings, wallet, sessionKey string, now time.Time) *Session {
	allowances := make([]wire.Allowance, len(s.Allowances))
	copy(allowances, s.Allowances)
	return &Session{
		Address:     wallet,
		SessionKey:  sessionKey,
		AppName:     s.AppName,
		Scope:       s.Scope,
		Application: s.Application,
		Allowances:  allowances,
		Expire:      now.Add(time.Duration(s.ExpireDays) * 24 * time.Hour).Unix(),
	}
}

// RequestParams returns the auth_request params for the session.
func (s *Session) RequestParams() wire.AuthRequestParams {
	return wire.AuthRequestParams{
		Address:     s.Address,
		SessionKey:  s.SessionKey,
		AppName:     s.AppName,
		Allowances:  s.Allowances,
		Expire:      fmt.Sprintf("%d", s.Expire),
		Scope:       s.Scope,
		Application: s.Application,
	}
}

// Policy returns the EIP-712 policy that answers challenge.
func (s *Session) Policy(challenge string) signer.PolicyMessage {
	allowances := make([]signer.Allowance, 0, len(s.Allowances))
	for _, a := range s.Allowances {
		allowances = append(allowances, signer.Allowance{Asset: a.Asset, Amount: a.Amount})
	}
	return signer.PolicyMessage{
		Challenge:   challenge,
		Scope:       s.Scope,
		Wallet:      s.Address,
		Application: s.Application,
		Participant: s.SessionKey,
		Expire:      s.Expire,
		Allowances:  allowances,
	}
}

// ErrNoExpiry is returned by CredentialExpiry for tokens without an exp claim.
var ErrNoExpiry = errors.New("credential has no expiry")

// CredentialExpiry reads the exp claim of a JWT without verifying its
// signature. The handshake never acts on it; callers may use it to decide
// when to install a new credential.
func CredentialExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse credential: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("parse credential: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}
