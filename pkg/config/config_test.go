package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "https://us1.api.matillion.com/dpc/v1", cfg.APIBaseURL)
	assert.Equal(t, "https://id.core.matillion.com/oauth/dpc/token", cfg.TokenURL)
	assert.Equal(t, "https://api.matillion.com", cfg.TokenAudience)
	assert.Equal(t, 60*time.Second, cfg.HTTPTimeout)
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"CLIENT_ID":     "id",
		"CLIENT_SECRET": "secret",
		"PROJECT_ID":    "proj",
		"ENV_NAME":      "env_dev",
		"API_BASE_URL":  "https://eu1.api.matillion.com/dpc/v1/",
		"HTTP_TIMEOUT":  "5s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://eu1.api.matillion.com/dpc/v1", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.NoError(t, cfg.ValidateCredentials())
	assert.NoError(t, cfg.ValidateTarget())
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "client credentials",
			cfg:  Config{ClientID: "id", ClientSecret: "secret"},
		},
		{
			name: "static token only",
			cfg:  Config{AuthToken: "tok"},
		},
		{
			name:    "missing secret",
			cfg:     Config{ClientID: "id"},
			wantErr: "CLIENT_SECRET",
		},
		{
			name:    "nothing set",
			cfg:     Config{},
			wantErr: "CLIENT_ID, CLIENT_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateCredentials()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTarget(t *testing.T) {
	base := Config{ProjectID: "p", EnvironmentName: "e", APIBaseURL: "https://api"}
	require.NoError(t, base.ValidateTarget())

	noProject := base
	noProject.ProjectID = ""
	assert.ErrorContains(t, noProject.ValidateTarget(), "project id")

	noEnv := base
	noEnv.EnvironmentName = " "
	assert.ErrorContains(t, noEnv.ValidateTarget(), "environment name")
}
