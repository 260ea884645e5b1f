package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"tradeloop/internal/client/venue"
)

var ErrNoCredentials = errors.New("venue credentials not configured")

type venueCredentials struct {
	PrivateKey string `env:"PRIVATE_KEY"`
	Address    string `env:"ADDRESS"`
}

// CredentialStore resolves venue signing keys from the environment. An
// account-scoped key (<prefix>ACCOUNT_<id>_PRIVATE_KEY) wins over the shared
// one (<prefix>PRIVATE_KEY).
type CredentialStore struct {
	Prefix string
	// Environment replaces the process environment when set.
	Environment map[string]string
}

func (c *CredentialStore) prefix() string {
	p := strings.TrimSpace(c.Prefix)
	if p == "" {
		p = "TL_VENUE_"
	}
	if !strings.HasSuffix(p, "_") {
		p += "_"
	}
	return p
}

func (c *CredentialStore) load(prefix string) (venueCredentials, error) {
	var out venueCredentials
	err := env.ParseWithOptions(&out, env.Options{Prefix: prefix, Environment: c.Environment})
	return out, err
}

func (c *CredentialStore) Signer(_ context.Context, accountID uint64) (venue.Signer, error) {
	base := c.prefix()
	scoped := base + "ACCOUNT_" + strconv.FormatUint(accountID, 10) + "_"
	for _, p := range []string{scoped, base} {
		creds, err := c.load(p)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		if strings.TrimSpace(creds.PrivateKey) == "" {
			continue
		}
		signer, err := venue.NewLocalSigner(creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("credentials %sPRIVATE_KEY: %w", p, err)
		}
		if want := strings.TrimSpace(creds.Address); want != "" && !strings.EqualFold(want, signer.Address()) {
			return nil, fmt.Errorf("credentials %sADDRESS does not match private key", p)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("%w for account %d", ErrNoCredentials, accountID)
}

// Address returns the venue address for an account without exposing the key.
func (c *CredentialStore) Address(ctx context.Context, accountID uint64) (string, error) {
	signer, err := c.Signer(ctx, accountID)
	if err != nil {
		return "", err
	}
	return signer.Address(), nil
}
