package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	tutorly "github.com/tutorly/tutorly-go"
)

// configSessionStore keeps the session in the [auth] section of the config
// file so a login survives between invocations. TUTORLY_TOKEN, when set,
// takes precedence over the file.
type configSessionStore struct {
	mu sync.Mutex
}

func (s *configSessionStore) Load() (tutorly.Session, error) {
	if token := os.Getenv("TUTORLY_TOKEN"); token != "" {
		return tutorly.Session{Token: token}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := readConfigFile()
	if err != nil {
		return tutorly.Session{}, err
	}
	return tutorly.Session{Token: cfg.Auth.Token, UserID: cfg.Auth.UserID}, nil
}

func (s *configSessionStore) Save(sess tutorly.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := readConfigFile()
	if err != nil {
		return err
	}
	cfg.Auth.Token = sess.Token
	cfg.Auth.UserID = sess.UserID
	return saveConfig(cfg)
}

func (s *configSessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := readConfigFile()
	if err != nil {
		return err
	}
	cfg.Auth = ConfigAuth{Email: cfg.Auth.Email}
	return saveConfig(cfg)
}

// newClient creates a client bound to the stored session.
func newClient() (*tutorly.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	opts := []tutorly.ClientOption{
		tutorly.WithSessionStore(&configSessionStore{}),
		tutorly.WithLogger(newLogger()),
		tutorly.WithLoginRedirect(0, func() {
			fmt.Fprintln(os.Stderr, "Session expired. Run 'tutorly login <email>' again.")
		}),
	}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, tutorly.WithBaseURL(cfg.Default.BaseURL))
	}
	return tutorly.NewClient("", opts...), nil
}

// getClient creates a client and exits when no one is logged in.
func getClient() *tutorly.Client {
	client, err := newClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if client.Session().Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'tutorly login <email>' first.")
		os.Exit(1)
	}
	return client
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
