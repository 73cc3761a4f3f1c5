package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/nerrad567/gray-logic-access/internal/audit"
)

// seedSecretBytes is the number of random bytes in the first admin secret.
const seedSecretBytes = 16

// SeedAdmin creates the first admin when no principals exist and returns
// its generated secret, which the caller shows once. An empty string means
// seeding was skipped.
func SeedAdmin(ctx context.Context, repo PrincipalRepository, hasher *Hasher, auditor Auditor, username string, logger *slog.Logger) (string, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking principal count: %w", err)
	}
	if count > 0 {
		logger.Info("principals exist, skipping admin seed")
		return "", nil
	}
	if !IsValidUsername(username) {
		return "", &InputError{Field: "username", Reason: "invalid bootstrap admin username"}
	}

	raw := make([]byte, seedSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating seed secret: %w", err)
	}
	secret := hex.EncodeToString(raw)
	clear(raw)

	hash, err := hasher.Hash([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("hashing seed secret: %w", err)
	}

	admin := &Principal{
		Username:     username,
		PasswordHash: hash,
		Role:         RoleAdmin,
		Active:       true,
		CreatedBy:    audit.SystemActor,
	}
	if err := repo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if err := auditor.Record(ctx, audit.SystemActor, audit.EventAdminSeeded, username, "first boot"); err != nil {
		return "", err
	}

	logger.Warn("seed admin account created",
		"username", username,
		"action_required", "record the one-time secret shown on the console",
	)
	return secret, nil
}
