// Package app ties the stores, the permission gate, the moderation queue and
// the content resolver together behind the HTTP surface.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"memoria/api/internal/auth"
	"memoria/api/internal/authpw"
	"memoria/api/internal/config"
	"memoria/api/internal/gate"
	"memoria/api/internal/media"
	"memoria/api/internal/moderation"
	"memoria/api/internal/search"
	"memoria/api/internal/session"
	"memoria/api/internal/snapshot"
	"memoria/api/internal/store"
	"memoria/api/internal/util"
)

// dataStore is everything the service needs from Postgres. PostgresStore
// implements it; tests swap in a fake.
type dataStore interface {
	ListCountries(ctx context.Context, lang string) ([]store.Country, error)
	GetCountry(ctx context.Context, code, lang string) (store.Country, error)
	ListSections(ctx context.Context, countryID int64) ([]store.Section, error)

	GetDescription(ctx context.Context, countryID int64) (store.Description, error)
	UpsertDescription(ctx context.Context, countryID int64, desc store.Description) error

	ListTimeline(ctx context.Context, countryID int64) ([]store.TimelineSummary, error)
	GetTimelineEvent(ctx context.Context, countryID int64, eventID string) (store.TimelineEvent, error)
	InsertTimelineEvent(ctx context.Context, countryID int64, event store.TimelineEvent) error
	UpdateTimelineEvent(ctx context.Context, countryID int64, eventID string, event store.TimelineEvent) error
	DeleteTimelineEvent(ctx context.Context, countryID int64, eventID string) error

	ListFototeca(ctx context.Context, countryID int64) ([]store.FototecaItem, error)
	GetFototecaItem(ctx context.Context, countryID int64, itemID string) (store.FototecaItem, error)
	InsertFototecaItem(ctx context.Context, countryID int64, item store.FototecaItem) error
	UpdateFototecaItem(ctx context.Context, countryID int64, itemID string, item store.FototecaItem) error
	DeleteFototecaItem(ctx context.Context, countryID int64, itemID string) error

	ListProfiles(ctx context.Context, kind store.ProfileKind, countryID int64) ([]store.ProfileSummary, error)
	GetProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string) (store.Profile, error)
	GetProfileEntry(ctx context.Context, kind store.ProfileKind, countryID int64, profileID, entryID string) (store.ProfileEntry, error)
	InsertProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profile store.Profile) error
	UpdateProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string, profile store.Profile) error
	DeleteProfile(ctx context.Context, kind store.ProfileKind, countryID int64, profileID string) error

	ListArticles(ctx context.Context, lang string) ([]store.ArticleSummary, error)
	GetArticle(ctx context.Context, articleID, lang string) (store.Article, error)
	InsertArticle(ctx context.Context, article store.Article) error
	UpdateArticle(ctx context.Context, articleID string, article store.Article) error
	DeleteArticle(ctx context.Context, articleID, lang string) error

	ListTerms(ctx context.Context, lang string) ([]store.Term, error)
	ListTermsByCategoryLetter(ctx context.Context, lang, category, letter string) ([]store.Term, error)
	ListTermHeadings(ctx context.Context, lang string) ([]store.TermHeading, error)
	GetTerm(ctx context.Context, termID, lang string) (store.Term, error)
	InsertTerm(ctx context.Context, term store.Term) error
	UpdateTerm(ctx context.Context, termID string, term store.Term) error
	DeleteTerm(ctx context.Context, termID, lang string) error

	StageChange(ctx context.Context, change store.PendingChange) error
	ListPendingChanges(ctx context.Context) ([]store.PendingChange, error)
	SetChangeStatus(ctx context.Context, changeID, status string) (string, error)

	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUser(ctx context.Context, userID string, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string, mustChange bool) error
	DeleteUser(ctx context.Context, userID string) error

	Ping(ctx context.Context) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	snap      *snapshot.Store
	sessions  session.Store
	queue     *moderation.Queue
	passwords *authpw.Service
	search    *search.Service
	uploads   *media.Uploader
}

// New wires the service. uploads may be nil when no object store is
// configured; searchSvc must not be nil (pass one built on PgFTS alone).
func New(cfg config.Config, data dataStore, snap *snapshot.Store, sessions session.Store, searchSvc *search.Service, uploads *media.Uploader) *Service {
	return &Service{
		cfg:       cfg,
		store:     data,
		snap:      snap,
		sessions:  sessions,
		queue:     moderation.NewQueue(data),
		passwords: authpw.NewService(data),
		search:    searchSvc,
		uploads:   uploads,
	}
}

// Bootstrap runs the idempotent startup tasks: the default admin account and
// a full search reindex when the search backend is reachable.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.passwords.EnsureDefaultAdmin(ctx, s.cfg.AdminInitialPassword); err != nil {
		return err
	}
	s.search.ReindexAllFromPG(ctx)
	return nil
}

func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Session is what a successful login or refresh hands back.
type Session struct {
	Token        string
	RefreshToken string
	User         store.User
	ExpiresAt    time.Time
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.Login(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	return s.createSession(ctx, user)
}

// Refresh rotates the refresh token: the presented one is revoked before the
// replacement is issued, so a stolen token works at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, fmt.Errorf("revoke session: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.createSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) createSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Role: user.Role,
		JTI:  util.NewID(),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refresh := hex.EncodeToString(raw)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		User:         user,
		ExpiresAt:    expiresAt,
	}, nil
}

// UserFromToken verifies the access token and loads the account fresh from
// the store. The token only identifies the caller; grants are never read
// from it, so permission changes bite on the very next request.
func (s *Service) UserFromToken(ctx context.Context, token string) (store.User, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, auth.ErrInvalidToken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	return s.passwords.ChangePassword(ctx, userID, current, next)
}

func gateUser(u store.User) gate.User {
	return gate.User{
		ID:        u.ID,
		Name:      u.Name,
		Role:      gate.Role(u.Role),
		Countries: u.Countries,
		Grants: gate.Grants{
			CanCreate:        u.Permissions.CanCreate,
			CanEdit:          u.Permissions.CanEdit,
			CanDelete:        u.Permissions.CanDelete,
			RequiresApproval: u.Permissions.RequiresApproval,
		},
	}
}

// userPayload is the account shape exposed over HTTP; the password hash
// never leaves the service.
func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":                 u.ID,
		"username":           u.Username,
		"role":               u.Role,
		"name":               u.Name,
		"countries":          u.Countries,
		"permissions":        u.Permissions,
		"mustChangePassword": u.MustChangePassword,
	}
}
