package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/hookpay/clearnode-go/pkg/signer"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// State is the handshake phase.
type State uint8

// Handshake phases.
const (
	StateIdle State = iota
	StateAwaitingChallenge
	StateAwaitingVerifyResult
)

var stateNames = map[State]string{
	StateIdle:                 "IDLE",
	StateAwaitingChallenge:    "AWAITING_CHALLENGE",
	StateAwaitingVerifyResult: "AWAITING_VERIFY_RESULT",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Outcome is the effect of handling one inbound message.
type Outcome uint8

// Handshake outcomes.
const (
	// OutcomeIgnored means the message did not belong to the active exchange.
	OutcomeIgnored Outcome = iota
	// OutcomeContinue means the exchange advanced and awaits another message.
	OutcomeContinue
	// OutcomeAuthenticated means the node accepted the session.
	OutcomeAuthenticated
	// OutcomeFailed means the attempt is over; the error says why.
	OutcomeFailed
)

// ErrHandshakeActive is returned when Begin is called mid-exchange.
var ErrHandshakeActive = errors.New("handshake already in progress")

// AuthenticationError reports a failed handshake.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SendFunc transmits a handshake message.
type SendFunc func(req *wire.Request) error

// Handshake runs the authentication exchange for one wallet and session key.
type Handshake struct {
	settings   Settings
	wallet     signer.Signer
	sessionKey string
	ids        *wire.IDSource
	now        func() time.Time

	state   State
	session *Session

	credential     string
	nodeSessionKey string
}

// NewHandshake creates a handshake that authorizes sessionKey (an address)
// on behalf of wallet.
func NewHandshake(settings Settings, wallet signer.Signer, sessionKey string, ids *wire.IDSource, now func() time.Time) *Handshake {
	if now == nil {
		now = time.Now
	}
	return &Handshake{
		settings:   settings,
		wallet:     wallet,
		sessionKey: sessionKey,
		ids:        ids,
		now:        now,
	}
}

// State returns the current phase.
func (h *Handshake) State() State {
	return h.state
}

// Credential returns the token issued by the node, if any.
func (h *Handshake) Credential() string {
	return h.credential
}

// SetCredential installs a token obtained elsewhere, for example from a
// previous process.
func (h *Handshake) SetCredential(token string) {
	h.credential = token
}

// SessionKey returns the session key confirmed by the node, or the local
// session key before the first successful handshake.
func (h *Handshake) SessionKey() string {
	if h.nodeSessionKey != "" {
		return h.nodeSessionKey
	}
	return h.sessionKey
}

// Reset abandons any exchange in progress. The credential is kept.
func (h *Handshake) Reset() {
	h.state = StateIdle
	h.session = nil
}

// fail ends the attempt. The credential is kept; only a fresh token from
// the node replaces it.
func (h *Handshake) fail(err error) (Outcome, error) {
	h.Reset()
	return OutcomeFailed, err
}

// Begin starts an exchange. With a stored credential it sends auth_verify
// carrying the token; otherwise it sends auth_request. The token is
// presented as is and left to the node to judge.
func (h *Handshake) Begin(send SendFunc) error {
	if h.state != StateIdle {
		return ErrHandshakeActive
	}
	now := h.now()

	var (
		req *wire.Request
		err error
	)
	if h.credential != "" {
		req, err = wire.NewAuthVerifyWithJWT(h.ids.Next(), h.credential, now)
		if err != nil {
			return &AuthenticationError{Reason: "build token verify", Err: err}
		}
		h.state = StateAwaitingVerifyResult
	} else {
		h.session = NewSession(h.settings, h.wallet.Address(), h.sessionKey, now)
		req, err = wire.NewAuthRequest(h.ids.Next(), h.session.RequestParams(), now)
		if err != nil {
			h.Reset()
			return &AuthenticationError{Reason: "build auth request", Err: err}
		}
		h.state = StateAwaitingChallenge
	}

	if err := send(req); err != nil {
		h.Reset()
		return &AuthenticationError{Reason: "send " + string(req.Req.Method), Err: err}
	}
	return nil
}

// Handle processes an inbound handshake-type message.
func (h *Handshake) Handle(resp *wire.Response, send SendFunc) (Outcome, error) {
	switch resp.Method {
	case wire.MethodAuthChallenge:
		if h.state != StateAwaitingChallenge {
			return OutcomeIgnored, nil
		}
		return h.answerChallenge(resp, send)

	case wire.MethodAuthVerify:
		if h.state != StateAwaitingVerifyResult {
			return OutcomeIgnored, nil
		}
		return h.complete(resp)

	case wire.MethodError:
		if h.state == StateIdle {
			return OutcomeIgnored, nil
		}
		return h.fail(&AuthenticationError{Reason: "rejected by node", Err: resp.ParseError()})

	default:
		return OutcomeIgnored, nil
	}
}

func (h *Handshake) answerChallenge(resp *wire.Response, send SendFunc) (Outcome, error) {
	challenge, err := resp.ParseChallenge()
	if err != nil {
		h.Reset()
		return OutcomeFailed, &AuthenticationError{Reason: "malformed challenge", Err: err}
	}

	typed := signer.PolicyTypedData(h.session.AppName, h.session.Policy(challenge.ChallengeMessage))
	sig, err := h.wallet.SignTypedData(typed)
	if err != nil {
		h.Reset()
		return OutcomeFailed, &AuthenticationError{Reason: "sign challenge", Err: err}
	}

	req, err := wire.NewAuthVerify(h.ids.Next(), challenge.ChallengeMessage, sig, h.now())
	if err != nil {
		h.Reset()
		return OutcomeFailed, &AuthenticationError{Reason: "build verify", Err: err}
	}
	h.session = nil
	h.state = StateAwaitingVerifyResult

	if err := send(req); err != nil {
		h.Reset()
		return OutcomeFailed, &AuthenticationError{Reason: "send auth_verify", Err: err}
	}
	return OutcomeContinue, nil
}

func (h *Handshake) complete(resp *wire.Response) (Outcome, error) {
	result, err := resp.ParseVerify()
	if err != nil {
		return h.fail(&AuthenticationError{Reason: "malformed verify result", Err: err})
	}
	if !result.Success {
		return h.fail(&AuthenticationError{Reason: "node reported failure"})
	}
	h.Reset()

	if result.JWTToken != "" {
		h.credential = result.JWTToken
	}
	if result.SessionKey != "" {
		h.nodeSessionKey = result.SessionKey
	}
	return OutcomeAuthenticated, nil
}
