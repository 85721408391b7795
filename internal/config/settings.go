// Package config holds the per-listener Settings record and its load/validate
// lifecycle. The shape mirrors the teacher's proxy.Config/proxy.Stratum split
// (yuriy0803-open-ubiq-pool-friends proxy/config.go) but is flattened to match
// the fields spec.md §6 names, and the Load/Save/Validate lifecycle follows
// ShaeOJ-GoVault's internal/config/config.go.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ShareMode selects how a worker's shares are routed by the fee scheduler.
type ShareMode int

const (
	PureProxy     ShareMode = 0
	Skim          ShareMode = 1
	UnifiedWallet ShareMode = 2
)

func (m ShareMode) String() string {
	switch m {
	case PureProxy:
		return "pure_proxy"
	case Skim:
		return "skim"
	case UnifiedWallet:
		return "unified_wallet"
	default:
		return "unknown"
	}
}

// Settings is a single listener's configuration. It is loaded once at boot
// and shared by reference thereafter — nothing in this module mutates it.
type Settings struct {
	Name string `yaml:"name"`

	TCPPort     int `yaml:"tcp_port"`
	SSLPort     int `yaml:"ssl_port"`
	EncryptPort int `yaml:"encrypt_port"`

	PoolAddress         []string `yaml:"pool_address"`
	ShareAlgPoolAddress []string `yaml:"share_alg_pool_address"`

	ShareWallet   string    `yaml:"share_wallet"`
	UnifiedWallet string    `yaml:"unified_wallet"`
	ShareRate     int       `yaml:"share_rate"`
	Share         ShareMode `yaml:"share"`

	PoolSSL bool   `yaml:"pool_ssl"`
	P12Path string `yaml:"p12_path"`
	P12Pass string `yaml:"p12_pass"`

	// Strict rejects the bundled fallback PKCS#12 identity at boot instead of
	// warning and using it. SPEC_FULL.md §3/§4.5 (REDESIGN FLAGS).
	Strict bool `yaml:"strict_tls"`

	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`

	// RateLimitPerSec/RateLimitBurst bound new-connection admission per
	// source IP. SPEC_FULL.md §6 (new). Zero means "use defaults".
	RateLimitPerSec int `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int `yaml:"rate_limit_burst"`

	// DialTimeoutSecs bounds upstream pool dials. SPEC_FULL.md §6 (new).
	DialTimeoutSecs int `yaml:"dial_timeout_secs"`

	// Difficulty is the target share difficulty advertised to
	// EthereumStratum/1.0.0 miners. spec.md §4.3 requires the proxy rewrite
	// result[3] of every job to this value for stratum-1.0.0 sessions instead
	// of forwarding whatever the pool sent. SPEC_FULL.md §3 (new).
	Difficulty uint64 `yaml:"difficulty"`
}

// Defaults matches the fields a bare YAML document is allowed to omit.
func Defaults() Settings {
	return Settings{
		RateLimitPerSec: 10,
		RateLimitBurst:  20,
		DialTimeoutSecs: 15,
		LogLevel:        "info",
		Difficulty:      4_000_000_000,
	}
}

// Load reads a single listener's Settings from a YAML file. Fanning one
// configs.yaml document out into many Settings values, and watching that file
// for edits, is the supervisor's job (spec.md §1) and stays out of scope —
// this mediator process is handed exactly one Settings document to run.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	s := Defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Check enforces the Settings invariants: name, at least one listen port and
// pool_address are required; any share_mode other than pure_proxy needs
// share_rate in (0,100]; skim additionally needs share_alg_pool_address and
// share_wallet, and unified_wallet needs unified_wallet. share_alg_pool_address
// is not required in unified_wallet mode, which never routes to the dev pool.
// Mirrors the teacher's config.check() call site in original_source main.rs
// (tokio_run).
func (s *Settings) Check() error {
	if s.Name == "" {
		return fmt.Errorf("config error: name is required")
	}
	if s.TCPPort == 0 && s.SSLPort == 0 && s.EncryptPort == 0 {
		return fmt.Errorf("config error: at least one of tcp_port/ssl_port/encrypt_port must be set")
	}
	if len(s.PoolAddress) == 0 {
		return fmt.Errorf("config error: pool_address must not be empty")
	}
	if s.Share != PureProxy {
		if s.ShareRate <= 0 || s.ShareRate > 100 {
			return fmt.Errorf("config error: share_rate must be in (0,100] when share_mode=%s", s.Share)
		}
		if s.Share == Skim && len(s.ShareAlgPoolAddress) == 0 {
			return fmt.Errorf("config error: share_alg_pool_address must not be empty when share_mode=skim")
		}
		if s.Share == Skim && s.ShareWallet == "" {
			return fmt.Errorf("config error: share_wallet is required when share_mode=skim")
		}
		if s.Share == UnifiedWallet && s.UnifiedWallet == "" {
			return fmt.Errorf("config error: unified_wallet is required when share_mode=unified_wallet")
		}
	}
	if s.Strict && s.P12Path == "" && (s.SSLPort != 0) {
		return fmt.Errorf("config error: strict_tls requires p12_path when ssl_port is enabled")
	}
	return nil
}
