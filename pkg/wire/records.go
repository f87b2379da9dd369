package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChannelStatus is the lifecycle state of a payment channel.
type ChannelStatus string

// Channel states reported by the node.
const (
	ChannelStatusJoining    ChannelStatus = "joining"
	ChannelStatusOpen       ChannelStatus = "open"
	ChannelStatusChallenged ChannelStatus = "challenged"
	ChannelStatusClosed     ChannelStatus = "closed"
)

// Channel describes one channel returned by get_channels.
type Channel struct {
	ChannelID   string        `json:"channel_id"`
	Participant string        `json:"participant"`
	Status      ChannelStatus `json:"status"`
	Token       string        `json:"token"`
	Wallet      string        `json:"wallet,omitempty"`
	Amount      json.Number   `json:"amount"`
	ChainID     uint64        `json:"chain_id"`
	Adjudicator string        `json:"adjudicator"`
	Challenge   uint64        `json:"challenge"`
	Nonce       uint64        `json:"nonce"`
	Version     uint64        `json:"version"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

// IsOpen reports whether the channel is open.
func (c Channel) IsOpen() bool {
	return strings.EqualFold(string(c.Status), string(ChannelStatusOpen))
}

// LedgerBalance is one asset balance returned by get_ledger_balances.
type LedgerBalance struct {
	Asset  string      `json:"asset"`
	Amount json.Number `json:"amount"`
}

// Network describes one chain supported by the node.
type Network struct {
	Name               string `json:"name"`
	ChainID            uint64 `json:"chain_id"`
	CustodyAddress     string `json:"custody_address"`
	AdjudicatorAddress string `json:"adjudicator_address"`
}

// NodeConfig is the result of get_config.
type NodeConfig struct {
	BrokerAddress string    `json:"broker_address"`
	Networks      []Network `json:"networks"`
}

// NewGetChannels builds a signed get_channels request for participant.
// An empty status lists channels in every state.
func NewGetChannels(id uint64, participant string, status ChannelStatus, ts time.Time, sign PayloadSigner) (*Request, error) {
	params := map[string]string{"participant": participant}
	if status != "" {
		params["status"] = string(status)
	}
	return newSigned(id, MethodGetChannels, params, ts, sign)
}

// NewGetLedgerBalances builds a signed get_ledger_balances request. The
// account may be a channel id or a participant address.
func NewGetLedgerBalances(id uint64, accountID string, ts time.Time, sign PayloadSigner) (*Request, error) {
	return newSigned(id, MethodGetLedgerBalances, map[string]string{"account_id": accountID}, ts, sign)
}

// NewGetConfig builds a signed get_config request.
func NewGetConfig(id uint64, ts time.Time, sign PayloadSigner) (*Request, error) {
	return newSigned(id, MethodGetConfig, []any{}, ts, sign)
}

// ParseChannels decodes a get_channels (or channels push) response.
func (r *Response) ParseChannels() ([]Channel, error) {
	var out []Channel
	if err := decodeList(r.Params, "channels", &out); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Method, err)
	}
	return out, nil
}

// ParseLedgerBalances decodes a get_ledger_balances (or bu push) response.
func (r *Response) ParseLedgerBalances() ([]LedgerBalance, error) {
	var out []LedgerBalance
	if err := decodeList(r.Params, "ledger_balances", &out); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Method, err)
	}
	return out, nil
}

// ParseConfig decodes a get_config response.
func (r *Response) ParseConfig() (*NodeConfig, error) {
	var cfg NodeConfig
	if err := r.DecodeParams(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newSigned(id uint64, method Method, params any, ts time.Time, sign PayloadSigner) (*Request, error) {
	req, err := NewRequest(id, method, params, ts)
	if err != nil {
		return nil, err
	}
	if err := req.Sign(sign); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeList accepts {key: [...]}, [[...]], [...] and [{key: [...]}].
func decodeList(raw json.RawMessage, key string, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty params")
	}

	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		inner, ok := obj[key]
		if !ok {
			return fmt.Errorf("missing %q", key)
		}
		return decodeList(inner, key, out)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	if len(items) == 1 {
		first := bytes.TrimSpace(items[0])
		if len(first) > 0 && first[0] == '[' {
			return json.Unmarshal(first, out)
		}
		if len(first) > 0 && first[0] == '{' {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(first, &obj); err == nil {
				if inner, ok := obj[key]; ok {
					return decodeList(inner, key, out)
				}
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}
