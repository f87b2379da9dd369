package wire

import (
	"fmt"
	"time"
)

// Allowance is a spending allowance granted to a session key.
type Allowance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// AuthRequestParams are the params of an auth_request message.
type AuthRequestParams struct {
	Address     string      `json:"address"`
	SessionKey  string      `json:"session_key"`
	AppName     string      `json:"app_name"`
	Allowances  []Allowance `json:"allowances"`
	Expire      string      `json:"expire"`
	Scope       string      `json:"scope"`
	Application string      `json:"application"`
}

// AuthChallenge is the params of an auth_challenge message.
type AuthChallenge struct {
	ChallengeMessage string `json:"challenge_message"`
}

// AuthVerifyResult is the params of a successful auth_verify response.
type AuthVerifyResult struct {
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
	JWTToken   string `json:"jwt_token"`
	Success    bool   `json:"success"`
}

// NewAuthRequest builds the unsigned auth_request message that opens the
// challenge exchange.
func NewAuthRequest(id uint64, params AuthRequestParams, ts time.Time) (*Request, error) {
	if params.Allowances == nil {
		params.Allowances = []Allowance{}
	}
	return NewRequest(id, MethodAuthRequest, params, ts)
}

// NewAuthVerify builds the auth_verify message answering challenge with an
// EIP-712 signature.
func NewAuthVerify(id uint64, challenge, signature string, ts time.Time) (*Request, error) {
	if challenge == "" {
		return nil, fmt.Errorf("auth_verify: empty challenge")
	}
	if signature == "" {
		return nil, fmt.Errorf("auth_verify: empty signature")
	}
	req, err := NewRequest(id, MethodAuthVerify, map[string]string{"challenge": challenge}, ts)
	if err != nil {
		return nil, err
	}
	req.Sig = []string{signature}
	return req, nil
}

// NewAuthVerifyWithJWT builds the auth_verify message that re-authenticates
// with a previously issued token, skipping the challenge.
func NewAuthVerifyWithJWT(id uint64, token string, ts time.Time) (*Request, error) {
	if token == "" {
		return nil, fmt.Errorf("auth_verify: empty token")
	}
	return NewRequest(id, MethodAuthVerify, map[string]string{"jwt": token}, ts)
}

// ParseChallenge extracts the challenge from an auth_challenge response.
func (r *Response) ParseChallenge() (*AuthChallenge, error) {
	if r.Method != MethodAuthChallenge {
		return nil, fmt.Errorf("not an auth_challenge message: %s", r.Method)
	}
	var c AuthChallenge
	if err := r.DecodeParams(&c); err != nil {
		return nil, err
	}
	if c.ChallengeMessage == "" {
		return nil, fmt.Errorf("auth_challenge: missing challenge_message")
	}
	return &c, nil
}

// ParseVerify extracts the result of an auth_verify response.
func (r *Response) ParseVerify() (*AuthVerifyResult, error) {
	if r.Method != MethodAuthVerify {
		return nil, fmt.Errorf("not an auth_verify message: %s", r.Method)
	}
	var v AuthVerifyResult
	if err := r.DecodeParams(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
