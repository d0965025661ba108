package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/LinkSwift/internal/app/model"
	"github.com/sifan077/LinkSwift/internal/app/repository"
	infraPrometheus "github.com/sifan077/LinkSwift/internal/infra/prometheus"
	"go.uber.org/zap"
)

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*CreateLinkResult, error)
	CheckLink(ctx context.Context, key string) (*LinkCheck, error)
	Resolve(ctx context.Context, input ResolveInput) (*Resolution, error)
	ResolvePrivate(ctx context.Context, input ResolveInput) (*Resolution, error)
	ResolveProtected(ctx context.Context, input ResolveInput) (*Resolution, error)
	VerifyHandshake(ctx context.Context, input HandshakeInput) (*Resolution, error)
	ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	GetAnalytics(ctx context.Context, key, callerID string) (*model.Analytics, error)
	DeleteLink(ctx context.Context, key, callerID string) error
}

// LinkServiceDeps groups the collaborators of the link service.
type LinkServiceDeps struct {
	Links     repository.LinkRepository
	Cache     repository.LinkCache
	Keys      KeyGenerator
	Filter    *KeyFilter
	Hasher    PasswordHasher
	Analytics *AnalyticsRecorder
	Logger    *zap.Logger
	Metrics   *infraPrometheus.Metrics
	Now       func() time.Time
}

// LinkPolicy holds the tunables of link creation and resolution.
type LinkPolicy struct {
	BaseURL           string
	DefaultExpireDays int
	MaxExpireDays     int
	MinPasswordLength int
	CacheTTLCeiling   time.Duration
	StoreTimeout      time.Duration
	// PrivateAccess is the policy given to private links when the request does not choose.
	PrivateAccess model.Access
	Hints         RedirectHints
}

// CreateLinkInput captures data required to create a link.
type CreateLinkInput struct {
	URL          string
	Password     string
	Name         string
	ExpireInDays int
	Private      bool
	// Handshake selects the one-time-token variant for a private link; nil uses the default.
	Handshake *bool
	CallerID  string
}

// CreateLinkResult is returned on successful creation. HandshakeToken is only set
// for handshake links and is the only time the token is revealed.
type CreateLinkResult struct {
	Link           *model.Link
	ShortURL       string
	HandshakeToken string
}

// LinkCheck tells a client what a key needs before resolving, without leaking the
// destination of protected or private links.
type LinkCheck struct {
	Private          bool
	PasswordRequired bool
	URL              *string
}

// ResolveInput captures one resolution attempt.
type ResolveInput struct {
	Key       string
	Password  string
	CallerID  string
	Grant     bool
	IP        string
	UserAgent string
}

// HandshakeInput captures a one-time token presentation.
type HandshakeInput struct {
	Key       string
	Token     string
	IP        string
	UserAgent string
}

// Resolution is an authorized destination.
type Resolution struct {
	Key string
	URL string
}

const maxFilterSkips = 16

// maxPasswordLength is the longest input bcrypt accepts.
const maxPasswordLength = 72

type linkService struct {
	links     repository.LinkRepository
	cache     repository.LinkCache
	keys      KeyGenerator
	filter    *KeyFilter
	hasher    PasswordHasher
	policy    *AccessPolicy
	analytics *AnalyticsRecorder
	logger    *zap.Logger
	metrics   *infraPrometheus.Metrics
	now       func() time.Time
	cfg       LinkPolicy
}

// NewLinkService returns a service implementation backed by the given dependencies.
func NewLinkService(deps LinkServiceDeps, cfg LinkPolicy) LinkService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Keys == nil {
		deps.Keys = NewKeyGenerator(3)
	}
	if deps.Hasher == nil {
		deps.Hasher = NewBcryptHasher(0)
	}
	if cfg.DefaultExpireDays <= 0 {
		cfg.DefaultExpireDays = 7
	}
	if cfg.MaxExpireDays <= 0 {
		cfg.MaxExpireDays = 3650
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}
	if cfg.CacheTTLCeiling <= 0 {
		cfg.CacheTTLCeiling = time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if !cfg.PrivateAccess.Private() {
		cfg.PrivateAccess = model.AccessOwner
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &linkService{
		links:     deps.Links,
		cache:     deps.Cache,
		keys:      deps.Keys,
		filter:    deps.Filter,
		hasher:    deps.Hasher,
		policy:    NewAccessPolicy(deps.Hasher, cfg.Hints),
		analytics: deps.Analytics,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		cfg:       cfg,
	}
}

func (s *linkService) CreateLink(ctx context.Context, input CreateLinkInput) (*CreateLinkResult, error) {
	name := strings.TrimSpace(input.Name)

	if (input.Private || name != "") && input.CallerID == "" {
		return nil, &Error{
			Kind:     KindAuthRequired,
			Message:  "private or named links require authentication",
			Redirect: s.cfg.Hints.LoginURL,
		}
	}
	if input.Private && input.Password != "" {
		return nil, invalidInput("private links cannot have a password")
	}
	if !validDestination(input.URL) {
		return nil, invalidInput("invalid or missing url")
	}
	if input.Password != "" && len(input.Password) < s.cfg.MinPasswordLength {
		return nil, invalidInput("password is too short")
	}
	if len(input.Password) > maxPasswordLength {
		return nil, invalidInput("password is too long")
	}

	days := input.ExpireInDays
	if days == 0 {
		days = s.cfg.DefaultExpireDays
	}
	if days < 0 || days > s.cfg.MaxExpireDays {
		return nil, invalidInput("expiration must be a positive number of days")
	}

	now := s.now().UTC()
	link := &model.Link{
		URL:       input.URL,
		Access:    model.AccessPublic,
		ExpiresAt: now.AddDate(0, 0, days),
	}
	if input.CallerID != "" {
		owner := input.CallerID
		link.OwnerID = &owner
	}
	if name != "" {
		link.Name = &name
	}

	if input.Password != "" {
		hash, err := s.hasher.Hash(input.Password)
		if err != nil {
			return nil, internal("hash password", err)
		}
		link.Access = model.AccessPassword
		link.PasswordHash = &hash
	}

	var token string
	if input.Private {
		link.Access = s.cfg.PrivateAccess
		if input.Handshake != nil {
			link.Access = model.AccessOwner
			if *input.Handshake {
				link.Access = model.AccessHandshake
			}
		}
		if link.Access == model.AccessHandshake {
			token = uuid.NewString()
			link.HandshakeToken = &token
		}
	}

	if err := s.persistWithUniqueKey(ctx, link); err != nil {
		return nil, err
	}
	s.filter.Add(link.Key)
	s.metrics.LinkCreated()

	entry := model.NewCachedLink(link)
	ttl := entry.TTL(now, s.cfg.CacheTTLCeiling)
	if err := s.cache.Set(ctx, entry, ttl); err != nil {
		s.logger.Warn("failed to cache new link", zap.String("key", link.Key), zap.Error(err))
	}
	if token != "" {
		if err := s.cache.SetHandshake(ctx, token, entry, ttl); err != nil {
			s.logger.Warn("failed to cache handshake entry", zap.String("key", link.Key), zap.Error(err))
		}
	}

	s.logger.Info("link created",
		zap.String("key", link.Key),
		zap.String("access", string(link.Access)),
		zap.Bool("owned", link.OwnerID != nil),
		zap.Time("expires_at", link.ExpiresAt),
	)

	return &CreateLinkResult{
		Link:           link,
		ShortURL:       s.cfg.BaseURL + "/" + link.Key,
		HandshakeToken: token,
	}, nil
}

// persistWithUniqueKey draws keys until one is free. The primary key constraint
// settles races between concurrent creators that drew the same key.
func (s *linkService) persistWithUniqueKey(ctx context.Context, link *model.Link) error {
	skips := 0
	for {
		if err := ctx.Err(); err != nil {
			return internal("create link", err)
		}

		key := s.keys.Generate()
		if skips < maxFilterSkips && s.filter.MayContain(key) {
			skips++
			continue
		}

		storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		exists, err := s.links.Exists(storeCtx, key)
		cancel()
		if err != nil {
			return internal("check key", err)
		}
		if exists {
			s.filter.Add(key)
			continue
		}

		link.Key = key
		storeCtx, cancel = context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err = s.links.Create(storeCtx, link)
		cancel()
		if errors.Is(err, repository.ErrDuplicateKey) {
			s.filter.Add(key)
			continue
		}
		if err != nil {
			link.Key = ""
			return internal("persist link", err)
		}
		return nil
	}
}

func validDestination(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (s *linkService) CheckLink(ctx context.Context, key string) (*LinkCheck, error) {
	entry, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	check := &LinkCheck{
		Private:          entry.Access.Private(),
		PasswordRequired: entry.Access == model.AccessPassword,
	}
	if entry.Access == model.AccessPublic {
		dest := entry.URL
		check.URL = &dest
	}
	return check, nil
}

func (s *linkService) Resolve(ctx context.Context, input ResolveInput) (*Resolution, error) {
	return s.resolve(ctx, input, nil)
}

func (s *linkService) ResolvePrivate(ctx context.Context, input ResolveInput) (*Resolution, error) {
	if input.CallerID == "" {
		return nil, &Error{Kind: KindAuthRequired, Message: "authentication required", Redirect: s.cfg.Hints.LoginURL}
	}
	return s.resolve(ctx, input, func(entry *model.CachedLink) error {
		if !entry.Access.Private() {
			return invalidInput("this link is not private")
		}
		return nil
	})
}

func (s *linkService) ResolveProtected(ctx context.Context, input ResolveInput) (*Resolution, error) {
	return s.resolve(ctx, input, func(entry *model.CachedLink) error {
		if entry.Access != model.AccessPassword {
			return invalidInput("this link does not require a password")
		}
		return nil
	})
}

func (s *linkService) resolve(ctx context.Context, input ResolveInput, guard func(*model.CachedLink) error) (*Resolution, error) {
	entry, err := s.lookup(ctx, input.Key)
	if err != nil {
		s.metrics.Resolution(string(KindOf(err)))
		return nil, err
	}
	if guard != nil {
		if err := guard(entry); err != nil {
			s.metrics.Resolution(string(KindOf(err)))
			return nil, err
		}
	}

	if err := s.policy.Evaluate(*entry, AccessRequest{
		CallerID: input.CallerID,
		Password: input.Password,
		Grant:    input.Grant,
	}, s.now().UTC()); err != nil {
		s.metrics.Resolution(string(KindOf(err)))
		return nil, err
	}

	s.recordClick(ctx, entry.Key, input.IP, input.UserAgent)
	s.metrics.Resolution("allowed")
	return &Resolution{Key: entry.Key, URL: entry.URL}, nil
}

// lookup reads the cache first and falls back to the store, repopulating the cache.
// Cache failures are misses; store failures are internal errors.
func (s *linkService) lookup(ctx context.Context, key string) (*model.CachedLink, error) {
	if key == "" {
		return nil, notFound()
	}
	now := s.now().UTC()

	entry, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		if entry.Expired(now) {
			s.metrics.CacheLookup("expired")
			_ = s.cache.Delete(ctx, key)
			return nil, notFound()
		}
		s.metrics.CacheLookup("hit")
		return entry, nil
	case errors.Is(err, repository.ErrCacheMiss):
		s.metrics.CacheLookup("miss")
	default:
		s.metrics.CacheLookup("error")
		s.logger.Warn("link cache unavailable, reading store", zap.String("key", key), zap.Error(err))
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	link, err := s.links.GetByKey(storeCtx, key)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, notFound()
		}
		return nil, internal("load link", err)
	}
	if link.Expired(now) {
		return nil, notFound()
	}

	fresh := model.NewCachedLink(link)
	if err := s.cache.Set(ctx, fresh, fresh.TTL(now, s.cfg.CacheTTLCeiling)); err != nil {
		s.logger.Warn("failed to repopulate link cache", zap.String("key", key), zap.Error(err))
	}
	return &fresh, nil
}

func (s *linkService) VerifyHandshake(ctx context.Context, input HandshakeInput) (*Resolution, error) {
	if input.Key == "" || input.Token == "" {
		return nil, invalidInput("key and token are required")
	}

	// Cleanup only: the store below is the sole arbiter of consumption, so the
	// cached entry is dropped here and never grants access on its own.
	if _, err := s.cache.TakeHandshake(ctx, input.Key, input.Token); err != nil && !errors.Is(err, repository.ErrCacheMiss) {
		s.logger.Warn("handshake cache unavailable", zap.String("key", input.Key), zap.Error(err))
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	link, err := s.links.ConsumeHandshake(storeCtx, input.Key, input.Token, s.now().UTC())
	if err != nil {
		var result error
		switch {
		case errors.Is(err, repository.ErrLinkNotFound):
			result = notFound()
		case errors.Is(err, repository.ErrHandshakeConsumed):
			result = &Error{Kind: KindForbidden, Message: "token already used"}
		case errors.Is(err, repository.ErrLinkExpired):
			result = invalidInput("link expired")
		default:
			result = internal("consume handshake", err)
		}
		s.metrics.Resolution(string(KindOf(result)))
		return nil, result
	}

	s.recordClick(ctx, link.Key, input.IP, input.UserAgent)
	s.metrics.Resolution("allowed")
	return &Resolution{Key: link.Key, URL: link.URL}, nil
}

// recordClick runs the analytics update before the redirect is returned. Its
// failure is logged and never fails the resolution.
func (s *linkService) recordClick(ctx context.Context, key, ip, userAgent string) {
	if s.analytics == nil {
		return
	}
	// The click is counted even if the client hangs up mid-request.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if _, err := s.analytics.Record(recCtx, key, ip, userAgent); err != nil {
		s.logger.Error("failed to record click", zap.String("key", key), zap.Error(err))
	}
}

func (s *linkService) ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	if ownerID == "" {
		return nil, &Error{Kind: KindAuthRequired, Message: "authentication required", Redirect: s.cfg.Hints.LoginURL}
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	links, err := s.links.ListByOwner(storeCtx, ownerID, limit, offset)
	if err != nil {
		return nil, internal("list links", err)
	}
	return links, nil
}

func (s *linkService) GetAnalytics(ctx context.Context, key, callerID string) (*model.Analytics, error) {
	link, err := s.ownedLink(ctx, key, callerID)
	if err != nil {
		return nil, err
	}
	analytics := link.Analytics()
	return &analytics, nil
}

func (s *linkService) DeleteLink(ctx context.Context, key, callerID string) error {
	link, err := s.ownedLink(ctx, key, callerID)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.links.Delete(storeCtx, key); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return notFound()
		}
		return internal("delete link", err)
	}

	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to drop cache entry for deleted link", zap.String("key", key), zap.Error(err))
	}
	if link.HandshakeToken != nil {
		_, _ = s.cache.TakeHandshake(ctx, key, *link.HandshakeToken)
	}

	s.logger.Info("link deleted", zap.String("key", key))
	return nil
}

func (s *linkService) ownedLink(ctx context.Context, key, callerID string) (*model.Link, error) {
	if callerID == "" {
		return nil, &Error{Kind: KindAuthRequired, Message: "authentication required", Redirect: s.cfg.Hints.LoginURL}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	link, err := s.links.GetByKey(storeCtx, key)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, notFound()
		}
		return nil, internal("load link", err)
	}
	if !link.OwnedBy(callerID) {
		return nil, &Error{Kind: KindUnauthorized, Message: "this link belongs to another user"}
	}
	return link, nil
}
