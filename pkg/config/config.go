package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration shared by every dpcctl command.
type Config struct {
	ClientID        string        `env:"CLIENT_ID"`
	ClientSecret    string        `env:"CLIENT_SECRET"`
	ProjectID       string        `env:"PROJECT_ID"`
	EnvironmentName string        `env:"ENV_NAME"`
	AuthToken       string        `env:"AUTH_TOKEN"`
	APIBaseURL      string        `env:"API_BASE_URL,default=https://us1.api.matillion.com/dpc/v1"`
	TokenURL        string        `env:"TOKEN_URL,default=https://id.core.matillion.com/oauth/dpc/token"`
	TokenAudience   string        `env:"TOKEN_AUDIENCE,default=https://api.matillion.com"`
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT,default=60s"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	NATSURL         string        `env:"NATS_URL"`
	PushgatewayURL  string        `env:"PUSHGATEWAY_URL"`
	ArchiveBucket   string        `env:"ARCHIVE_S3_BUCKET"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from the provided lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg, nil
}

// ValidateCredentials reports whether a token can be obtained, either from a
// pre-issued AUTH_TOKEN or through the client credentials exchange.
func (c Config) ValidateCredentials() error {
	if strings.TrimSpace(c.AuthToken) != "" {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variable(s): %s (or set AUTH_TOKEN)", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateTarget checks that a project and environment were resolved.
func (c Config) ValidateTarget() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("project id is required (--project-id or PROJECT_ID)")
	}
	if strings.TrimSpace(c.EnvironmentName) == "" {
		return errors.New("environment name is required (--environment-name or ENV_NAME)")
	}
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	return nil
}
