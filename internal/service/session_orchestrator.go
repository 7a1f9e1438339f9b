package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sandeepkv93/secure-session-core/internal/domain"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
	"github.com/sandeepkv93/secure-session-core/internal/repository"
	"github.com/sandeepkv93/secure-session-core/internal/security"
)

type LoginInput struct {
	Username string
	Password string
	DeviceID string
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionOrchestrator runs the login, reissue and logout use cases on top of
// the signer and the registry.
type SessionOrchestrator struct {
	signer        *security.TokenSigner
	registry      *SessionRegistry
	credentials   CredentialVerifier
	users         UserLookup
	defaultDevice string
	logger        *slog.Logger
	now           func() time.Time
}

// NewSessionOrchestrator wires the use cases. users may be nil, in which case
// reissue does not re-check that the account still exists.
func NewSessionOrchestrator(signer *security.TokenSigner, registry *SessionRegistry, credentials CredentialVerifier, users UserLookup, defaultDevice string, logger *slog.Logger) *SessionOrchestrator {
	if defaultDevice == "" {
		defaultDevice = domain.DefaultDeviceID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionOrchestrator{
		signer:        signer,
		registry:      registry,
		credentials:   credentials,
		users:         users,
		defaultDevice: defaultDevice,
		logger:        logger,
		now:           time.Now,
	}
}

func (o *SessionOrchestrator) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "session.login")
	defer span.End()

	user, err := o.credentials.VerifyCredentials(ctx, in.Username, in.Password)
	if err != nil {
		kind := ClassifyFailure(err)
		observability.RecordAuthLogin(ctx, string(kind))
		span.SetStatus(codes.Error, string(kind))
		return nil, err
	}

	familyID := uuid.NewString()
	pair, rec, err := o.issuePair(ctx, user.ID, o.device(in.DeviceID), familyID)
	if err != nil {
		observability.RecordAuthLogin(ctx, string(ClassifyFailure(err)))
		span.RecordError(err)
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "success")
	observability.AuditContext(ctx, "session.login", "user_id", user.ID, "device_id", rec.DeviceID, "family_id", familyID)
	return pair, nil
}

// Reissue exchanges a refresh token for a new pair. A token whose record is no
// longer ACTIVE is a replay: its whole family is revoked and ErrReplayDetected
// returned.
func (o *SessionOrchestrator) Reissue(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "session.reissue")
	defer span.End()

	pair, err := o.reissue(ctx, refreshToken)
	if err != nil {
		kind := ClassifyFailure(err)
		observability.RecordAuthReissue(ctx, string(kind))
		span.SetAttributes(attribute.String("reissue.outcome", string(kind)))
		span.SetStatus(codes.Error, string(kind))
		return nil, err
	}
	observability.RecordAuthReissue(ctx, "rotated")
	span.SetAttributes(attribute.String("reissue.outcome", "rotated"))
	return pair, nil
}

func (o *SessionOrchestrator) reissue(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := o.signer.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type() != security.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", security.ErrInvalidToken)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	rec, err := o.registry.Lookup(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID || (rec.TokenID != "" && rec.TokenID != claims.TokenID()) {
		return nil, fmt.Errorf("%w: session does not match token", security.ErrInvalidToken)
	}
	if !rec.IsActive() {
		return nil, o.replay(ctx, rec)
	}
	if rec.Expired(o.now()) {
		return nil, fmt.Errorf("%w: session past its expiry", security.ErrExpiredToken)
	}

	// A failed lookup must leave the token ACTIVE for the retry.
	if o.users != nil {
		if _, err := o.users.FindByID(ctx, userID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				o.revokeLineage(ctx, rec)
				return nil, ErrUnknownSession
			}
			return nil, err
		}
	}

	won, err := o.registry.MarkRotated(ctx, rec.TokenHash)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, o.replay(ctx, rec)
	}

	familyID := rec.FamilyID
	if familyID == "" {
		familyID = uuid.NewString()
	}
	device := rec.DeviceID
	if device == "" {
		device = o.device(claims.Device())
	}
	pair, _, err := o.issuePair(ctx, userID, device, familyID)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (o *SessionOrchestrator) revokeLineage(ctx context.Context, rec domain.SessionRecord) {
	var err error
	if rec.FamilyID != "" {
		_, err = o.registry.RevokeFamily(ctx, rec.FamilyID)
	} else {
		err = o.registry.Revoke(ctx, rec.TokenHash)
	}
	if err != nil {
		o.logger.WarnContext(ctx, "revoke for deleted user failed", "user_id", rec.UserID, "family_id", rec.FamilyID, "error", err)
	}
}

// replay revokes the family of a reused token, or every session of the user
// for records written before families existed.
func (o *SessionOrchestrator) replay(ctx context.Context, rec domain.SessionRecord) error {
	scope := "family"
	var (
		revoked int
		err     error
	)
	if rec.FamilyID != "" {
		revoked, err = o.registry.RevokeFamily(ctx, rec.FamilyID)
	} else {
		scope = "user"
		revoked, err = o.registry.RevokeAllForUser(ctx, rec.UserID)
	}
	observability.RecordReuseDetected(ctx, scope, revoked)
	observability.AuditContext(ctx, "session.replay_detected",
		"user_id", rec.UserID,
		"family_id", rec.FamilyID,
		"status", string(rec.Status),
		"scope", scope,
		"revoked", revoked,
	)
	if err != nil {
		o.logger.WarnContext(ctx, "revoke after replay failed", "user_id", rec.UserID, "family_id", rec.FamilyID, "error", err)
	}
	return ErrReplayDetected
}

func (o *SessionOrchestrator) Logout(ctx context.Context, userID uint) (int, error) {
	ctx, span := observability.StartSpan(ctx, "session.logout")
	defer span.End()

	revoked, err := o.registry.RevokeAllForUser(ctx, userID)
	if err != nil {
		observability.RecordAuthLogout(ctx, string(ClassifyFailure(err)))
		span.RecordError(err)
		return revoked, err
	}
	observability.RecordAuthLogout(ctx, "success")
	observability.AuditContext(ctx, "session.logout", "user_id", userID, "revoked", revoked)
	return revoked, nil
}

func (o *SessionOrchestrator) issuePair(ctx context.Context, userID uint, deviceID, familyID string) (*TokenPair, domain.SessionRecord, error) {
	subject := strconv.FormatUint(uint64(userID), 10)
	refresh, err := o.signer.IssueRefresh(subject, deviceID)
	if err != nil {
		return nil, domain.SessionRecord{}, err
	}
	access, err := o.signer.IssueAccessWithID(subject, refresh.TokenID)
	if err != nil {
		return nil, domain.SessionRecord{}, err
	}
	rec, err := o.registry.Store(ctx, refresh.Token, userID, refresh.TokenID, deviceID, familyID, refresh.ExpiresAt)
	if err != nil {
		return nil, domain.SessionRecord{}, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh.Token}, rec, nil
}

func (o *SessionOrchestrator) device(deviceID string) string {
	if deviceID == "" {
		return o.defaultDevice
	}
	return deviceID
}
