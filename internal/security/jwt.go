package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	MinSecretBytes = 32

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrWeakSecret   = errors.New("signing secret must be at least 32 bytes")
)

type ClaimName string

const (
	ClaimSubject ClaimName = "sub"
	ClaimTokenID ClaimName = "jti"
	ClaimDevice  ClaimName = "did"
	ClaimType    ClaimName = "typ"
	ClaimExpiry  ClaimName = "exp"
)

type Claims struct {
	TokenType string `json:"typ"`
	DeviceID  string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Type() string { return c.TokenType }

func (c *Claims) Device() string { return c.DeviceID }

func (c *Claims) TokenID() string { return c.ID }

func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// UserID parses the subject as the numeric user id the service issues.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric subject", ErrInvalidToken)
	}
	return uint(id), nil
}

// Value returns a single claim by name, reporting false when it is absent.
func (c *Claims) Value(name ClaimName) (string, bool) {
	var v string
	switch name {
	case ClaimSubject:
		v = c.Subject
	case ClaimTokenID:
		v = c.ID
	case ClaimDevice:
		v = c.DeviceID
	case ClaimType:
		v = c.TokenType
	case ClaimExpiry:
		if c.ExpiresAt != nil {
			v = strconv.FormatInt(c.ExpiresAt.Unix(), 10)
		}
	}
	return v, v != ""
}

type SignerConfig struct {
	Issuer         string
	Audience       string
	CurrentSecret  []byte
	PreviousSecret []byte
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	Leeway         time.Duration
}

type IssuedRefresh struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// TokenSigner mints and verifies HS256 tokens. New tokens are always signed
// with the current secret; verification also accepts the previous secret so a
// key rotation does not end live sessions.
type TokenSigner struct {
	issuer     string
	audience   string
	current    []byte
	previous   []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

func NewTokenSigner(cfg SignerConfig) (*TokenSigner, error) {
	if len(cfg.CurrentSecret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	if len(cfg.PreviousSecret) > 0 && len(cfg.PreviousSecret) < MinSecretBytes {
		return nil, fmt.Errorf("previous key: %w", ErrWeakSecret)
	}
	s := &TokenSigner{
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		current:    append([]byte(nil), cfg.CurrentSecret...),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}
	if len(cfg.PreviousSecret) > 0 {
		s.previous = append([]byte(nil), cfg.PreviousSecret...)
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	return s, nil
}

// WithClock returns a copy of s that reads time from now.
func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	cp := *s
	cp.now = now
	return &cp
}

func (s *TokenSigner) AccessTTL() time.Duration { return s.accessTTL }

func (s *TokenSigner) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenSigner) IssueAccess(subject string) (string, error) {
	return s.IssueAccessWithID(subject, uuid.NewString())
}

// IssueAccessWithID mints an access token carrying jti, so it can be paired
// with the refresh token issued alongside it.
func (s *TokenSigner) IssueAccessWithID(subject, jti string) (string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	now := s.now()
	return s.sign(Claims{
		TokenType:        TokenTypeAccess,
		RegisteredClaims: s.registered(subject, jti, now, now.Add(s.accessTTL)),
	})
}

func (s *TokenSigner) IssueRefresh(subject, deviceID string) (IssuedRefresh, error) {
	now := s.now()
	jti := uuid.NewString()
	exp := now.Add(s.refreshTTL)
	token, err := s.sign(Claims{
		TokenType:        TokenTypeRefresh,
		DeviceID:         deviceID,
		RegisteredClaims: s.registered(subject, jti, now, exp),
	})
	if err != nil {
		return IssuedRefresh{}, err
	}
	return IssuedRefresh{Token: token, TokenID: jti, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Verify checks signature, issuer, audience and expiry. Expired tokens yield
// ErrExpiredToken; every other failure yields ErrInvalidToken.
func (s *TokenSigner) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims, err := s.parse(raw, s.current)
	if err != nil && s.previous != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		claims, err = s.parse(raw, s.previous)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Claim verifies raw and returns one of its claims.
func (s *TokenSigner) Claim(raw string, name ClaimName) (string, bool) {
	claims, err := s.Verify(raw)
	if err != nil {
		return "", false
	}
	return claims.Value(name)
}

func (s *TokenSigner) parse(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("token not valid")
	}
	return claims, nil
}

func (s *TokenSigner) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.current)
}

func (s *TokenSigner) registered(subject, jti string, now, exp time.Time) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        jti,
	}
	if s.audience != "" {
		rc.Audience = jwt.ClaimStrings{s.audience}
	}
	return rc
}
