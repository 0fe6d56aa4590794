package store

import (
	"strconv"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
)

// Well-known setting keys.
const (
	KeyDownloadDir          = "download_dir"
	KeyEngineBinPath        = "engine_bin_path"
	KeyMaxConcurrentDl      = "max_concurrent_downloads"
	KeyMaxConnPerServer     = "max_connection_per_server"
	KeySplit                = "split"
	KeyEnableUPnP           = "enable_upnp"
	KeyBtTrackers           = "bt_tracker"
	KeyBridgeToken          = "bridge_token"
	KeyBridgePort           = "bridge_port"
	KeyBridgeAllowedOrigins = "browser_bridge_allowed_origins"
	KeyRetryMaxAttempts     = "retry_max_attempts"
	KeyRetryBackoffSecs     = "retry_backoff_secs"
	KeyRetryFallbackMirrors = "retry_fallback_mirrors"
	KeyMetadataTimeoutSecs  = "metadata_timeout_secs"
	KeyAutoDeleteControl    = "auto_delete_control_files"
	KeyAutoClearCompletedDays = "auto_clear_completed_days"
	KeySpeedPlan            = "speed_plan"
	KeyDownloadDirRules     = "download_dir_rules"
	KeyCategoryRules        = "category_rules"
	KeyGithubCDN            = "github_cdn"
	KeyGithubToken          = "github_token"
	KeyUserAgent            = "user_agent"
	KeyStartupNotice        = "startup_notice"
	KeyStartupNoticeSeen    = "startup_notice_seen"
)

// GlobalSettings is the typed projection of Settings exposed to the UI.
type GlobalSettings struct {
	DownloadDir             string `json:"download_dir"`
	EngineBinPath           string `json:"engine_bin_path"`
	MaxConcurrentDownloads  int    `json:"max_concurrent_downloads"`
	MaxConnectionPerServer  int    `json:"max_connection_per_server"`
	Split                   int    `json:"split"`
	EnableUPnP              bool   `json:"enable_upnp"`
	BtTrackers              string `json:"bt_tracker"`
	BridgeToken             string `json:"bridge_token"`
	BridgePort              int    `json:"bridge_port"`
	BridgeAllowedOrigins    string `json:"browser_bridge_allowed_origins"`
	RetryMaxAttempts        int    `json:"retry_max_attempts"`
	RetryBackoffSecs        int    `json:"retry_backoff_secs"`
	RetryFallbackMirrors    string `json:"retry_fallback_mirrors"`
	MetadataTimeoutSecs     int    `json:"metadata_timeout_secs"`
	AutoDeleteControlFiles  bool   `json:"auto_delete_control_files"`
	AutoClearCompletedDays  int    `json:"auto_clear_completed_days"`
	SpeedPlan               string `json:"speed_plan"`
	DownloadDirRules        string `json:"download_dir_rules"`
	CategoryRules           string `json:"category_rules"`
	GithubCDN               string `json:"github_cdn"`
	GithubToken             string `json:"github_token"`
}

// Defaults applied on first run.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		MaxConcurrentDownloads: 5,
		MaxConnectionPerServer: 16,
		Split:                  16,
		EnableUPnP:             false,
		BridgePort:             16789,
		RetryMaxAttempts:       3,
		RetryBackoffSecs:       15,
		MetadataTimeoutSecs:    180,
		AutoDeleteControlFiles: true,
		AutoClearCompletedDays: 0,
		SpeedPlan:              "[]",
		DownloadDirRules:       "[]",
		CategoryRules:          "[]",
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func strToBool(s string) bool { return s == "true" }

// SaveGlobalSettings writes every field as an individual Setting row.
func (s *Store) SaveGlobalSettings(g GlobalSettings) error {
	pairs := map[string]string{
		KeyDownloadDir:            g.DownloadDir,
		KeyEngineBinPath:          g.EngineBinPath,
		KeyMaxConcurrentDl:        strconv.Itoa(g.MaxConcurrentDownloads),
		KeyMaxConnPerServer:       strconv.Itoa(g.MaxConnectionPerServer),
		KeySplit:                  strconv.Itoa(g.Split),
		KeyEnableUPnP:             boolToStr(g.EnableUPnP),
		KeyBtTrackers:             g.BtTrackers,
		KeyBridgeToken:            g.BridgeToken,
		KeyBridgePort:             strconv.Itoa(g.BridgePort),
		KeyBridgeAllowedOrigins:   g.BridgeAllowedOrigins,
		KeyRetryMaxAttempts:       strconv.Itoa(g.RetryMaxAttempts),
		KeyRetryBackoffSecs:       strconv.Itoa(g.RetryBackoffSecs),
		KeyRetryFallbackMirrors:   g.RetryFallbackMirrors,
		KeyMetadataTimeoutSecs:    strconv.Itoa(g.MetadataTimeoutSecs),
		KeyAutoDeleteControl:      boolToStr(g.AutoDeleteControlFiles),
		KeyAutoClearCompletedDays: strconv.Itoa(g.AutoClearCompletedDays),
		KeySpeedPlan:              g.SpeedPlan,
		KeyDownloadDirRules:       g.DownloadDirRules,
		KeyCategoryRules:          g.CategoryRules,
		KeyGithubCDN:              g.GithubCDN,
		KeyGithubToken:            g.GithubToken,
	}
	for k, v := range pairs {
		if err := s.SetString(k, v); err != nil {
			return err
		}
	}
	return nil
}

// LoadGlobalSettings reads every field, defaulting absent ones.
func (s *Store) LoadGlobalSettings() (GlobalSettings, error) {
	g := DefaultGlobalSettings()

	get := func(key string) (string, error) { return s.GetString(key) }

	var err error
	if g.DownloadDir, err = get(KeyDownloadDir); err != nil {
		return g, err
	}
	if g.EngineBinPath, err = get(KeyEngineBinPath); err != nil {
		return g, err
	}
	if v, err := get(KeyMaxConcurrentDl); err != nil {
		return g, err
	} else if v != "" {
		g.MaxConcurrentDownloads = atoiOr(v, g.MaxConcurrentDownloads)
	}
	if v, err := get(KeyMaxConnPerServer); err != nil {
		return g, err
	} else if v != "" {
		g.MaxConnectionPerServer = atoiOr(v, g.MaxConnectionPerServer)
	}
	if v, err := get(KeySplit); err != nil {
		return g, err
	} else if v != "" {
		g.Split = atoiOr(v, g.Split)
	}
	if v, err := get(KeyEnableUPnP); err != nil {
		return g, err
	} else if v != "" {
		g.EnableUPnP = strToBool(v)
	}
	if g.BtTrackers, err = get(KeyBtTrackers); err != nil {
		return g, err
	}
	if g.BridgeToken, err = get(KeyBridgeToken); err != nil {
		return g, err
	}
	if v, err := get(KeyBridgePort); err != nil {
		return g, err
	} else if v != "" {
		g.BridgePort = atoiOr(v, g.BridgePort)
	}
	if g.BridgeAllowedOrigins, err = get(KeyBridgeAllowedOrigins); err != nil {
		return g, err
	}
	if v, err := get(KeyRetryMaxAttempts); err != nil {
		return g, err
	} else if v != "" {
		g.RetryMaxAttempts = atoiOr(v, g.RetryMaxAttempts)
	}
	if v, err := get(KeyRetryBackoffSecs); err != nil {
		return g, err
	} else if v != "" {
		g.RetryBackoffSecs = atoiOr(v, g.RetryBackoffSecs)
	}
	if g.RetryFallbackMirrors, err = get(KeyRetryFallbackMirrors); err != nil {
		return g, err
	}
	if v, err := get(KeyMetadataTimeoutSecs); err != nil {
		return g, err
	} else if v != "" {
		g.MetadataTimeoutSecs = atoiOr(v, g.MetadataTimeoutSecs)
	}
	if v, err := get(KeyAutoDeleteControl); err != nil {
		return g, err
	} else if v != "" {
		g.AutoDeleteControlFiles = strToBool(v)
	}
	if v, err := get(KeyAutoClearCompletedDays); err != nil {
		return g, err
	} else if v != "" {
		g.AutoClearCompletedDays = atoiOr(v, g.AutoClearCompletedDays)
	}
	if v, err := get(KeySpeedPlan); err != nil {
		return g, err
	} else if v != "" {
		g.SpeedPlan = v
	}
	if v, err := get(KeyDownloadDirRules); err != nil {
		return g, err
	} else if v != "" {
		g.DownloadDirRules = v
	}
	if v, err := get(KeyCategoryRules); err != nil {
		return g, err
	} else if v != "" {
		g.CategoryRules = v
	}
	if g.GithubCDN, err = get(KeyGithubCDN); err != nil {
		return g, err
	}
	if g.GithubToken, err = get(KeyGithubToken); err != nil {
		return g, err
	}
	return g, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// ValidateRuntimeSettings is the first-run validator (spec 4.1):
// download_dir must be non-empty; the concurrency knobs and split must
// parse to positive integers. enable_upnp is a Go bool field and is
// not checked here.
func ValidateRuntimeSettings(g GlobalSettings) error {
	if g.DownloadDir == "" {
		return apperr.InvalidInputf("invalid setting download_dir")
	}
	if g.MaxConcurrentDownloads <= 0 {
		return apperr.InvalidInputf("invalid setting max_concurrent_downloads")
	}
	if g.MaxConnectionPerServer <= 0 {
		return apperr.InvalidInputf("invalid setting max_connection_per_server")
	}
	if g.Split <= 0 {
		return apperr.InvalidInputf("invalid setting split")
	}
	return nil
}
