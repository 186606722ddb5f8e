package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zlnvch/doodleup/cache"
	"github.com/zlnvch/doodleup/registry"
	"github.com/zlnvch/doodleup/store"
	"github.com/zlnvch/doodleup/worker"
	"golang.org/x/oauth2"
)

// Settings are the tunables the service reads from configuration.
type Settings struct {
	DefaultAvatar string
	TokenTTL      time.Duration
}

type Service struct {
	Store           store.DoodleStore
	Cache           cache.DoodleCache
	Identities      *registry.IdentityRegistry
	Boards          *registry.BoardRegistry
	StrokeBatcher   *worker.StrokeBatcher
	ActivityBatcher *worker.ActivityBatcher
	OAuthConfigs    map[string]*oauth2.Config
	OAuthAPIs       map[string]OAuthAPI
	JWTSecret       []byte
	Settings        Settings

	now func() time.Time

	// board code -> *atomic.Uint64, bumped around every clear
	clearEpochs sync.Map
}

func NewService(
	store store.DoodleStore,
	cache cache.DoodleCache,
	identities *registry.IdentityRegistry,
	boards *registry.BoardRegistry,
	strokeBatcher *worker.StrokeBatcher,
	activityBatcher *worker.ActivityBatcher,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	settings Settings,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	if settings.TokenTTL <= 0 {
		settings.TokenTTL = DefaultTokenTTL
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		Identities:      identities,
		Boards:          boards,
		StrokeBatcher:   strokeBatcher,
		ActivityBatcher: activityBatcher,
		OAuthConfigs:    oauthConfigs,
		OAuthAPIs:       oauthAPIs,
		JWTSecret:       jwtSecret,
		Settings:        settings,
		now:             time.Now,
	}, nil
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clearEpoch(boardCode string) *atomic.Uint64 {
	v, _ := s.clearEpochs.LoadOrStore(boardCode, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}
