// Package oauth resolves an OAuth2 configuration to a gRPC per-call credential.
package oauth

import (
	"context"
	"os"
	"strings"

	"github.com/grdisco/grdisco/config"
	"github.com/grdisco/grdisco/logger"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"google.golang.org/grpc/credentials"
	grpcoauth "google.golang.org/grpc/credentials/oauth"
)

// Error is returned when a credential cannot be resolved.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "failed to resolve the OAuth2 credential: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolver resolves OAuth2 configurations.
type Resolver struct{}

// NewResolver returns a new Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns a credential built from cfg. The first token is fetched eagerly,
// so a malformed configuration or an unreachable token endpoint fails here.
// Every returned error is an *Error.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.OAuth) (credentials.PerRPCCredentials, error) {
	ts, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, &Error{Err: err}
	}
	ts = oauth2.ReuseTokenSource(nil, ts)
	tok, err := ts.Token()
	if err != nil {
		return nil, &Error{Err: errors.Wrap(err, "failed to obtain a token")}
	}
	logger.Printf("oauth2: obtained an access token (type: %s, expiry: %s)", tok.Type(), tok.Expiry)
	return grpcoauth.TokenSource{TokenSource: ts}, nil
}

func tokenSource(ctx context.Context, cfg *config.OAuth) (oauth2.TokenSource, error) {
	if cfg == nil {
		return nil, errors.New("OAuth2 config is missing")
	}

	switch {
	case cfg.AccessTokenPath != "" && cfg.RefreshTokenPath != "":
		return nil, errors.New("access token and refresh token credentials are mutually exclusive")

	case cfg.AccessTokenPath != "":
		tok, err := readToken(cfg.AccessTokenPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read the access token")
		}
		logger.Println("oauth2: using a static access token")
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}), nil

	case cfg.RefreshTokenPath != "":
		if err := validateClient(cfg); err != nil {
			return nil, err
		}
		tok, err := readToken(cfg.RefreshTokenPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read the refresh token")
		}
		c := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
			Scopes:       cfg.Scopes,
		}
		logger.Println("oauth2: using the refresh token grant")
		return c.TokenSource(ctx, &oauth2.Token{RefreshToken: tok}), nil

	default:
		if err := validateClient(cfg); err != nil {
			return nil, err
		}
		c := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		logger.Println("oauth2: using the client credentials grant")
		return c.TokenSource(ctx), nil
	}
}

func validateClient(cfg *config.OAuth) error {
	switch {
	case cfg.TokenURL == "":
		return errors.New("token URL is required")
	case cfg.ClientID == "":
		return errors.New("client ID is required")
	case cfg.ClientSecret == "":
		return errors.New("client secret is required")
	}
	return nil
}

func readToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", errors.Errorf("'%s' is empty", path)
	}
	return tok, nil
}
