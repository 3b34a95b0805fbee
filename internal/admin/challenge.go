// Package admin issues and verifies the short-lived challenge tokens that
// gate mutating administrative operations.
//
// A token is minted for an allow-listed caller when it loads the dashboard
// and binds that caller to one entry of the admin password list. A mutating
// call must present the token together with the password at the bound index.
// Tokens expire and are scoped to the issuing identity, so there is no
// long-lived global correlation between identities and password indexes.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Challenge is an issued admin challenge.
type Challenge struct {
	Token         string
	PasswordIndex int
	ExpiresAt     time.Time
}

type entry struct {
	token     string
	index     int
	expiresAt time.Time
}

// Challenges tracks outstanding challenge tokens per admin identity.
type Challenges struct {
	mu        sync.Mutex
	byID      map[string]entry
	passwords []string
	ttl       time.Duration
}

// NewChallenges creates a challenge issuer over the admin password list.
func NewChallenges(passwords []string, ttl time.Duration) (*Challenges, error) {
	if len(passwords) == 0 {
		return nil, fmt.Errorf("admin password list is empty")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Challenges{
		byID:      make(map[string]entry),
		passwords: passwords,
		ttl:       ttl,
	}, nil
}

// Issue mints a fresh challenge for id, replacing any outstanding one.
func (c *Challenges) Issue(id string) (Challenge, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return Challenge{}, fmt.Errorf("mint token: %w", err)
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(c.passwords))))
	if err != nil {
		return Challenge{}, fmt.Errorf("pick password index: %w", err)
	}

	ch := Challenge{
		Token:         hex.EncodeToString(buf),
		PasswordIndex: int(idx.Int64()),
		ExpiresAt:     time.Now().Add(c.ttl),
	}
	c.mu.Lock()
	c.byID[id] = entry{token: ch.Token, index: ch.PasswordIndex, expiresAt: ch.ExpiresAt}
	c.mu.Unlock()
	return ch, nil
}

// Verify checks that id holds an unexpired challenge matching token, and that
// password equals the password at the challenge's bound index. Comparison is
// constant-time.
func (c *Challenges) Verify(id, token, password string) bool {
	c.mu.Lock()
	e, ok := c.byID[id]
	c.mu.Unlock()
	if !ok || time.Now().After(e.expiresAt) {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) != 1 {
		return false
	}
	expected := c.passwords[e.index]
	return subtle.ConstantTimeCompare([]byte(expected), []byte(password)) == 1
}

// Prune drops expired challenges and returns how many were removed.
func (c *Challenges) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pruned int
	for id, e := range c.byID {
		if now.After(e.expiresAt) {
			delete(c.byID, id)
			pruned++
		}
	}
	return pruned
}
