package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "invoicedash"

// DashboardSettings are the user preferences the terminal UI persists
// between runs. Secrets never land here; tokens live in the credentials file.
type DashboardSettings struct {
	BaseURL         string `json:"base_url"`
	RealtimeURL     string `json:"realtime_url"`
	Email           string `json:"email"`
	ReconnectPolicy string `json:"reconnect_policy,omitempty"`
	Debug           bool   `json:"debug"`
	StatusFilter    string `json:"status_filter,omitempty"`
}

func SettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appDirName, "settings.json"), nil
}

func DefaultCredentialsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appDirName, "credentials.json"), nil
}

func LoadSettings() (DashboardSettings, error) {
	path, err := SettingsPath()
	if err != nil {
		return DashboardSettings{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DashboardSettings{}, err
	}
	var settings DashboardSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return DashboardSettings{}, err
	}
	return settings, nil
}

func SaveSettings(settings DashboardSettings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// MergeOptionsWithSettings fills values the command line left unset. Flag
// defaults count as unset for the URLs, so saved endpoints win over the
// localhost placeholders.
func MergeOptionsWithSettings(cli Options, saved DashboardSettings, defaults Options) Options {
	if strings.TrimSpace(cli.BaseURL) == "" || cli.BaseURL == defaults.BaseURL {
		if strings.TrimSpace(saved.BaseURL) != "" {
			cli.BaseURL = saved.BaseURL
		}
	}
	if strings.TrimSpace(cli.RealtimeURL) == "" || cli.RealtimeURL == defaults.RealtimeURL {
		if strings.TrimSpace(saved.RealtimeURL) != "" {
			cli.RealtimeURL = saved.RealtimeURL
		}
	}
	if strings.TrimSpace(cli.Email) == "" {
		cli.Email = saved.Email
	}
	if (cli.ReconnectPolicy == "" || cli.ReconnectPolicy == defaults.ReconnectPolicy) && saved.ReconnectPolicy != "" {
		cli.ReconnectPolicy = saved.ReconnectPolicy
	}
	if !cli.Debug {
		cli.Debug = saved.Debug
	}
	return cli
}

func SettingsFromOptions(opts Options, statusFilter string) DashboardSettings {
	return DashboardSettings{
		BaseURL:         strings.TrimSpace(opts.BaseURL),
		RealtimeURL:     strings.TrimSpace(opts.RealtimeURL),
		Email:           strings.TrimSpace(opts.Email),
		ReconnectPolicy: opts.ReconnectPolicy,
		Debug:           opts.Debug,
		StatusFilter:    strings.TrimSpace(statusFilter),
	}
}
