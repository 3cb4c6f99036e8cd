package models

import (
	"time"
)

// Portfolio is a user's monitored holdings: the wallets to scan and the chains to scan them on.
// Wallets are stored in checksum form, chains as lower-case registry keys.
type Portfolio struct {
	UserID       string    `json:"user_id"`
	Wallets      []string  `json:"wallets"`
	Chains       []string  `json:"chains"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Pairs returns every (wallet, chain) combination in registration order.
func (p *Portfolio) Pairs() []ScanPair {
	pairs := make([]ScanPair, 0, len(p.Wallets)*len(p.Chains))
	for _, w := range p.Wallets {
		for _, c := range p.Chains {
			pairs = append(pairs, ScanPair{Wallet: w, Chain: c})
		}
	}
	return pairs
}

// ScanPair is one unit of scan work
type ScanPair struct {
	Wallet string `json:"wallet"`
	Chain  string `json:"chain"`
}

// Session binds a user id to a transport address while a conversation is live.
type Session struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboundMessage is a rendered text message for one recipient
type OutboundMessage struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
