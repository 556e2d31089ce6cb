package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"stockroom.org/internal/ids"
	"stockroom.org/internal/obs"
	"stockroom.org/internal/stream"
	"stockroom.org/internal/token"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Service orchestrates the credential rotation protocol on top of the
// credential ledger: login opens a new lineage, refresh rotates or revokes,
// logout prunes the whole family.
type Service struct {
	store Store
	codec *token.Codec
	now   func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration

	events *stream.Stream
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEvents publishes security lifecycle events to the given stream.
func WithEvents(events *stream.Stream) ServiceOption {
	return func(s *Service) { s.events = events }
}

// NewService constructs the rotation service.
func NewService(store Store, codec *token.Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	svc := &Service{
		store:      store,
		codec:      codec,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TokenPair is one issued access+refresh pair bound to a ledger node.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Signup registers a principal with a fresh session mark.
func (s *Service) Signup(ctx context.Context, username, email, password string, role Role) (*Principal, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(password) == "" {
		return nil, ErrInvalidInput
	}
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return nil, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	p := &Principal{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		SessionMark:  ids.New(),
	}
	if err := s.store.Principals(ctx).Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Login verifies credentials and opens a new lineage root.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, *Principal, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		obs.CountLogin("denied")
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	p, err := s.store.Principals(ctx).FindByUsername(ctx, username)
	if err != nil {
		obs.CountLogin("denied")
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		obs.CountLogin("denied")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	node := &CredentialNode{PrincipalID: p.ID}
	pair, err := s.mintPair(p, node)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if err := s.store.Credentials(ctx).CreateRoot(ctx, node); err != nil {
		return TokenPair{}, nil, err
	}
	obs.CountLogin("ok")
	s.publish(stream.EventLogin, p.ID, node.ID)
	return pair, p, nil
}

// Refresh rotates the presented refresh token or revokes its family.
// Decision order: unknown token -> ErrRevokedOrUnknown; node already rotated
// -> the whole family is deleted and ErrReplayDetected returned; node valid
// but the token fails codec verification -> the codec error, node untouched;
// otherwise the parent is marked invalid and exactly one child is born, all
// inside one transaction.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	child, err := s.store.Credentials(ctx).Rotate(ctx, refreshToken, func(parent *CredentialNode) (*CredentialNode, error) {
		claims, err := s.codec.Verify(token.ClassRefresh, refreshToken)
		if err != nil {
			return nil, err
		}
		p, err := s.store.Principals(ctx).Find(ctx, parent.PrincipalID)
		if err != nil {
			return nil, err
		}
		if claims.SessionMark != p.SessionMark {
			return nil, ErrRevokedOrUnknown
		}
		node := &CredentialNode{PrincipalID: p.ID}
		minted, err := s.mintPair(p, node)
		if err != nil {
			return nil, err
		}
		pair = minted
		return node, nil
	})
	if err != nil {
		if errors.Is(err, ErrReplayDetected) {
			obs.CountReplay()
			s.publishReplay(ctx, refreshToken)
		}
		return TokenPair{}, err
	}
	obs.CountRotation()
	s.publish(stream.EventRotation, child.PrincipalID, child.ID)
	return pair, nil
}

// Logout locates the node behind either token of a pair and deletes the
// whole family. An unknown token yields ErrRevokedOrUnknown; callers treat
// that as success (best-effort cleanup).
func (s *Service) Logout(ctx context.Context, anyToken string) error {
	creds := s.store.Credentials(ctx)
	node, err := creds.FindByAccessToken(ctx, anyToken)
	if errors.Is(err, ErrNotFound) {
		node, err = creds.FindByRefreshToken(ctx, anyToken)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrRevokedOrUnknown
		}
		return err
	}
	if _, err := creds.DeleteFamily(ctx, node.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrRevokedOrUnknown
		}
		return err
	}
	s.publish(stream.EventLogout, node.PrincipalID, node.ID)
	return nil
}

// RotateSessionMark invalidates every outstanding token of a principal by
// replacing the mark embedded in future tokens.
func (s *Service) RotateSessionMark(ctx context.Context, principalID string) error {
	return s.store.Principals(ctx).UpdateSessionMark(ctx, principalID, ids.New())
}

// AccessTTL exposes the configured access token lifetime (cookie max-age).
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL exposes the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *Service) mintPair(p *Principal, node *CredentialNode) (TokenPair, error) {
	access, accessExp, err := s.codec.Sign(token.ClassAccess, p.ID, p.SessionMark, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.Sign(token.ClassRefresh, p.ID, p.SessionMark, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	node.AccessToken = access
	node.RefreshToken = refresh
	node.ExpireAt = refreshExp
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) publish(kind stream.EventType, principalID, nodeID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(stream.Event{
		Type:        kind,
		PrincipalID: principalID,
		NodeID:      nodeID,
		At:          s.now().UTC(),
	})
}

// publishReplay reports a replay with whatever claim context the token still
// carries; the family is already gone by the time this runs.
func (s *Service) publishReplay(ctx context.Context, refreshToken string) {
	if s.events == nil {
		return
	}
	principalID := ""
	if claims, err := s.codec.Verify(token.ClassRefresh, refreshToken); err == nil {
		principalID = claims.PrincipalID()
	}
	s.events.Publish(stream.Event{
		Type:        stream.EventReplay,
		PrincipalID: principalID,
		At:          s.now().UTC(),
	})
}
