/**
 * @description
 * This file implements the Redis-backed processing guard used to suppress
 * duplicate deliveries of the same verified donation across service replicas.
 * The guard is best-effort only: the ledger's (donation_id, beneficiary_id)
 * unique constraint and the per-donation target propagation stamp are what
 * actually guarantee exactly-once distribution.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisProcessingGuard claims donation IDs with SET NX so that only one
// replica processes a given delivery within the claim window.
type RedisProcessingGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisProcessingGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisProcessingGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "sahyog:donation_claim"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisProcessingGuard{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// ClaimDonation returns true when this caller won the claim for the donation.
// A nil client claims unconditionally, which degrades the guard to a no-op.
func (g *RedisProcessingGuard) ClaimDonation(ctx context.Context, donationID uuid.UUID) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}

	claimed, err := g.client.SetNX(ctx, g.claimKey(donationID), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim donation %s: %w", donationID, err)
	}
	return claimed, nil
}

// ReleaseDonation drops the claim after a failed attempt so the broker's
// redelivery is processed instead of being suppressed until the TTL expires.
func (g *RedisProcessingGuard) ReleaseDonation(ctx context.Context, donationID uuid.UUID) error {
	if g == nil || g.client == nil {
		return nil
	}

	if err := g.client.Del(ctx, g.claimKey(donationID)).Err(); err != nil {
		return fmt.Errorf("release donation claim %s: %w", donationID, err)
	}
	return nil
}

func (g *RedisProcessingGuard) claimKey(donationID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", g.prefix, donationID)
}
