// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/storage"
)

// Bootstrap seeds the store from the config file's Credentials/Keys lists
// on first run; entries already present (matched by access token / key
// hash) are skipped.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	existing, err := store.ListCredentials(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.AccessToken] = true
	}

	for _, entry := range cfg.Credentials {
		if entry.AccessToken == "" || seen[entry.AccessToken] {
			continue
		}
		cred := &gateway.Credential{
			ID:               uuid.Must(uuid.NewV7()).String(),
			AccessToken:      entry.AccessToken,
			RefreshToken:     entry.RefreshToken,
			Region:           entry.Region,
			ProfileID:        entry.ProfileID,
			SubscriptionTier: entry.SubscriptionTier,
			HealthScore:      100,
			Available:        true,
			CreatedAt:        time.Now().UTC(),
		}
		if err := store.CreateCredential(ctx, cred); err != nil {
			return err
		}
		slog.Info("bootstrapped credential", "id", cred.ID, "region", cred.Region)
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		hash := gateway.HashKey(k.Key)

		existing, _ := store.GetKeyByHash(ctx, hash)
		if existing != nil {
			continue
		}

		prefix := k.Key
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}

		key := &gateway.APIKey{
			ID:                 uuid.Must(uuid.NewV7()).String(),
			KeyHash:            hash,
			KeyPrefix:          prefix,
			Name:               k.Name,
			AllowedCredentials: k.AllowedCredentials,
			AllowedModels:      k.AllowedModels,
			Enabled:            true,
			CreatedAt:          time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "name", k.Name, "prefix", prefix)
	}

	return nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
