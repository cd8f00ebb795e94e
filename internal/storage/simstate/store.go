// Package simstate persists paper wallets so a simulated account keeps its
// balances across restarts.
package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Store keeps the wallet of one account in <dir>/<account>.json.
type Store struct {
	path    string
	account string
}

// NewStore creates the state directory if needed.
func NewStore(dir, account string) (*Store, error) {
	name := sanitizeScope(account)
	if name == "" {
		return nil, errors.New("account name is required for simulate state")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name)), account: account}, nil
}

// State is the persisted form of a wallet.
type State struct {
	Account   string            `json:"account"`
	Wallet    map[string]string `json:"wallet"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Load reads the wallet. A missing or empty file yields a nil wallet.
func (s *Store) Load() (map[string]decimal.Decimal, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read simulate state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode simulate state")
	}

	wallet := make(map[string]decimal.Decimal, len(state.Wallet))
	for asset, v := range state.Wallet {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s balance", asset)
		}
		wallet[asset] = amount
	}
	return wallet, nil
}

// Save writes the wallet atomically via a temp file.
func (s *Store) Save(wallet map[string]decimal.Decimal) error {
	state := State{
		Account:   s.account,
		Wallet:    make(map[string]string, len(wallet)),
		UpdatedAt: time.Now().UTC(),
	}
	for asset, amount := range wallet {
		state.Wallet[asset] = amount.String()
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
