// Package auth provides HMAC-based API key authentication for the gRPC API.
//
// A key identifies one organization. The interceptor resolves it and places
// the organization in the request context; handlers never accept an
// organization from the request body.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/types"
)

type contextKey string

const organizationKey = contextKey("organization_id")

// healthPrefix marks methods served without a key.
const healthPrefix = "/grpc.health.v1.Health/"

// Queries is the subset of *db.Queries used for key lookup and issue.
type Queries interface {
	GetContext(ctx context.Context, name string, dest any, args ...any) error
	ExecContext(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Authenticator validates API keys against their stored HMAC digests.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	now     func() time.Time
}

// NewAuthenticator creates an authenticator over a secret_id -> secret map.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type keyRow struct {
	APIKeyID       string      `db:"api_key_id"`
	OrganizationID string      `db:"organization_id"`
	RevokedAt      db.NullTime `db:"revoked_at"`
	LastUsedAt     db.NullTime `db:"last_used_at"`
}

// Authenticate resolves apiKey to its organization.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (types.OrganizationID, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	var row keyRow
	err = a.queries.GetContext(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}

	if row.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// last_used_at is advisory; write at most once a minute per key
	now := a.now()
	if !row.LastUsedAt.Valid || now.Sub(row.LastUsedAt.Time) > time.Minute {
		if _, err := a.queries.ExecContext(ctx, "update-last-used", db.FormatTime(now), row.APIKeyID); err != nil {
			slog.WarnContext(ctx, "update api key last_used_at failed", "api_key_id", row.APIKeyID, "error", err)
		}
	}

	return types.OrganizationID(row.OrganizationID), nil
}

// Issue creates a key for org under secret secretID and stores its digest.
// The plaintext key is returned once and never stored.
func (a *Authenticator) Issue(ctx context.Context, org types.OrganizationID, name, secretID string) (string, error) {
	if org == "" {
		return "", types.ErrMissingOrganization
	}
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	key, err := GenerateAPIKey(secretID)
	if err != nil {
		return "", err
	}
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := a.queries.ExecContext(ctx, "insert-api-key",
		id, string(org), name, ComputeHMAC(secret, key), db.FormatTime(a.now())); err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}
	return key, nil
}

// UnaryInterceptor authenticates every call except health checks.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		keys := md.Get("x-api-key")
		if len(keys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		org, err := a.Authenticate(ctx, keys[0])
		switch {
		case err == nil:
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrStore):
			slog.ErrorContext(ctx, "authentication store error", "method", info.FullMethod, "error", err)
			return nil, status.Error(codes.Unavailable, ErrStore.Error())
		default:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(WithOrganization(ctx, org), req)
	}
}

// WithOrganization returns ctx carrying org as the caller's organization.
func WithOrganization(ctx context.Context, org types.OrganizationID) context.Context {
	return context.WithValue(ctx, organizationKey, org)
}

// OrganizationFromContext returns the authenticated organization, or "".
func OrganizationFromContext(ctx context.Context) types.OrganizationID {
	if org, ok := ctx.Value(organizationKey).(types.OrganizationID); ok {
		return org
	}
	return ""
}
