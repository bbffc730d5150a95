package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/semmidev/backupd/internal/infrastructure/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

const oauthState = "backupd-gdrive"

// GoogleOAuthService runs the one-off consent flow that produces the token
// file read by the Google Drive archive target.
type GoogleOAuthService struct {
	config     *oauth2.Config
	logger     *logger.Logger
	tokenFile  string
	authServer *http.Server

	once sync.Once
	done chan error
}

func NewGoogleOAuthService(logger *logger.Logger, clientSecretPath, tokenFile string) (*GoogleOAuthService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}
	if tokenFile == "" {
		return nil, errors.New("token file path cannot be empty")
	}

	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}

	return &GoogleOAuthService{
		config:    cfg,
		logger:    logger,
		tokenFile: tokenFile,
		done:      make(chan error, 1),
	}, nil
}

func (s *GoogleOAuthService) AuthURL() string {
	return s.config.AuthCodeURL(oauthState, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Done yields once the callback has stored a token or failed for good.
func (s *GoogleOAuthService) Done() <-chan error {
	return s.done
}

func (s *GoogleOAuthService) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/google/drive", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.AuthURL(), http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != oauthState {
			http.Error(w, "invalid state parameter", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}

		if token.RefreshToken == "" {
			fmt.Fprintln(w, "⚠️ No refresh token returned. Revoke app access & re-authorize.")
			return
		}

		if err := s.saveToken(token); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			s.finish(err)
			return
		}

		fmt.Fprintf(w, "✅ Token saved to %s. You can close this window.", s.tokenFile)
		s.logger.Infof("Google Drive token saved to %s", s.tokenFile)
		s.finish(nil)
	})

	return mux
}

func (s *GoogleOAuthService) saveToken(token *oauth2.Token) error {
	tokenJSON, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.tokenFile, tokenJSON, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (s *GoogleOAuthService) finish(err error) {
	s.once.Do(func() {
		s.done <- err
	})
}

// StartAuthServer starts the OAuth HTTP server in a goroutine.
func (s *GoogleOAuthService) StartAuthServer(addr string) {
	s.authServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Google Drive OAuth server listening on %s", s.authServer.Addr)
		if err := s.authServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("OAuth server error: %v", err)
			s.finish(err)
		}
	}()
}

// Shutdown gracefully stops the OAuth server.
func (s *GoogleOAuthService) Shutdown(ctx context.Context) error {
	if s.authServer == nil {
		return nil
	}

	if err := s.authServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	s.logger.Infof("OAuth server stopped successfully")
	return nil
}
