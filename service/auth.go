package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zlnvch/doodleup/models"
	"golang.org/x/oauth2"
)

const DefaultTokenTTL = 168 * time.Hour

// Claims is the signed payload of both guest and account credentials.
type Claims struct {
	Name     string `json:"name"`
	ProfileP string `json:"profile_p"`
	Auth     bool   `json:"auth"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// OAuthAPI is the profile endpoint queried after a code exchange.
type OAuthAPI struct {
	URL     string
	Headers map[string]string
}

// Provider-specific structs
type gitHubUser struct {
	Login     string `json:"login"`
	ID        int    `json:"id"`
	AvatarURL string `json:"avatar_url"`
}

type googleUser struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

type oauthProfile struct {
	Provider   string
	ProviderId string
	Username   string
	AvatarRef  string
}

var oauthAPIs = map[string]OAuthAPI{
	"github": {
		URL: "https://api.github.com/user",
		Headers: map[string]string{
			"X-GitHub-Api-Version": "2022-11-28",
		},
	},
	"google": {
		URL:     "https://openidconnect.googleapis.com/v1/userinfo",
		Headers: map[string]string{},
	},
}

var oauthConfigsTemplate = map[string]*oauth2.Config{
	"github": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://github.com/login/oauth/authorize",
			TokenURL: "https://github.com/login/oauth/access_token",
		},
		Scopes: []string{"read:user"},
	},
	"google": {
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"openid", "email", "profile"},
	},
}

func addOauthEndpointsAndScopes(oauthConfigs map[string]*oauth2.Config) (map[string]*oauth2.Config, error) {
	if oauthConfigs == nil {
		return map[string]*oauth2.Config{}, nil
	}
	for provider := range oauthConfigs {
		template, ok := oauthConfigsTemplate[provider]
		if !ok {
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
		oauthConfigs[provider].Endpoint = template.Endpoint
		oauthConfigs[provider].Scopes = template.Scopes
	}

	return oauthConfigs, nil
}

// IssueGuestCredential mints a guest identity named displayName and returns
// it with its signed token.
func (s *Service) IssueGuestCredential(ctx context.Context, displayName string) (models.Identity, string, error) {
	name, err := ValidateDisplayName(displayName)
	if err != nil {
		return models.Identity{}, "", err
	}

	key, err := uuid.NewV7()
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("generating identity key: %w", err)
	}

	identity := models.Identity{
		Key:         key.String(),
		DisplayName: name,
		AvatarRef:   s.Settings.DefaultAvatar,
		LastActive:  s.now(),
	}
	s.Identities.Register(identity)

	token, err := s.CreateJWT(identity)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("token generation failed: %w", err)
	}
	return identity, token, nil
}

func (s *Service) CreateJWT(identity models.Identity) (string, error) {
	now := s.now()
	claims := Claims{
		Name:     identity.DisplayName,
		ProfileP: identity.AvatarRef,
		Auth:     identity.Authenticated,
		Provider: identity.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Key,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.Settings.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.JWTSecret)
}

func (s *Service) VerifyJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("missing sub claim")
	}

	return claims, nil
}

// Verify checks token and returns the identity it proves. An identity lost
// to a restart or the reaper is recreated from the claims.
func (s *Service) Verify(ctx context.Context, token string) (models.Identity, error) {
	if len(token) == 0 {
		return models.Identity{}, fmt.Errorf("%w: token not provided", ErrUnauthorized)
	}

	claims, err := s.VerifyJWT(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claimed := models.Identity{
		Key:           claims.Subject,
		DisplayName:   claims.Name,
		AvatarRef:     claims.ProfileP,
		Provider:      claims.Provider,
		Authenticated: claims.Auth,
	}
	return s.Identities.Ensure(claimed, s.now()), nil
}

// VerifyAny tries each token in order and returns the identity of the
// first one that verifies. When none does, the first failure is returned.
func (s *Service) VerifyAny(ctx context.Context, tokens []string) (models.Identity, error) {
	if len(tokens) == 0 {
		return s.Verify(ctx, "")
	}

	var firstErr error
	for _, token := range tokens {
		identity, err := s.Verify(ctx, token)
		if err == nil {
			return identity, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return models.Identity{}, firstErr
}

// Login completes an OAuth code exchange and returns the account identity
// and its token.
func (s *Service) Login(ctx context.Context, provider, code string) (models.Identity, string, error) {
	profile, err := s.HandleOauth(ctx, provider, code)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("oauth failed: %w", err)
	}

	identity := models.Identity{
		Key:           accountKey(profile.Provider, profile.ProviderId),
		DisplayName:   profile.Username,
		AvatarRef:     profile.AvatarRef,
		Provider:      profile.Provider,
		Authenticated: true,
		LastActive:    s.now(),
	}
	if identity.AvatarRef == "" {
		identity.AvatarRef = s.Settings.DefaultAvatar
	}
	s.Identities.Register(identity)

	token, err := s.CreateJWT(identity)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("token generation failed: %w", err)
	}
	return identity, token, nil
}

// accountKey is stable per provider account, so logging in again maps to
// the same identity.
func accountKey(provider, providerId string) string {
	return uuid.NewV5(uuid.NamespaceURL, provider+"#"+providerId).String()
}

func (s *Service) HandleOauth(ctx context.Context, provider string, code string) (oauthProfile, error) {
	conf, ok := s.OAuthConfigs[provider]
	if !ok {
		return oauthProfile{}, fmt.Errorf("%w: unsupported provider: %s", ErrInvalidArgument, provider)
	}
	api, ok := s.OAuthAPIs[provider]
	if !ok {
		return oauthProfile{}, fmt.Errorf("%w: unsupported provider: %s", ErrInvalidArgument, provider)
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		slog.Warn("oauth code exchange failed", "provider", provider, "err", err)
		return oauthProfile{}, err
	}

	client := conf.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.URL, nil)
	if err != nil {
		return oauthProfile{}, err
	}
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("oauth profile request failed", "provider", provider, "err", err)
		return oauthProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oauthProfile{}, fmt.Errorf("profile endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oauthProfile{}, err
	}

	return parseUser(body, provider)
}

func parseUser(jsonData []byte, provider string) (oauthProfile, error) {
	p := oauthProfile{Provider: provider}

	switch provider {
	case "github":
		var gh gitHubUser
		if err := json.Unmarshal(jsonData, &gh); err != nil {
			return oauthProfile{}, err
		}
		p.Username = gh.Login
		p.AvatarRef = gh.AvatarURL
		if gh.ID != 0 {
			p.ProviderId = strconv.Itoa(gh.ID)
		}
	case "google":
		var g googleUser
		if err := json.Unmarshal(jsonData, &g); err != nil {
			return oauthProfile{}, err
		}
		p.Username = g.Name
		if p.Username == "" {
			p.Username = g.Email
		}
		p.AvatarRef = g.Picture
		p.ProviderId = g.Sub
	default:
		return oauthProfile{}, fmt.Errorf("unsupported provider: %s", provider)
	}

	if p.ProviderId == "" || p.Username == "" {
		return oauthProfile{}, errors.New("profile missing id or name")
	}
	return p, nil
}
