package commands

import (
	"time"

	"gymbot-backend/internal/payments"
	"gymbot-backend/lib/configutil"
	configlibsql "gymbot-backend/lib/configutil/libsql"
	"gymbot-backend/lib/scrapers/clubos/core"
)

type TimeoutsConfig struct {
	LightSeconds float64 `json:"light_seconds"`
	BulkSeconds  float64 `json:"bulk_seconds"`
	LoginSeconds float64 `json:"login_seconds"`
}

type AuthConfig struct {
	// negative disables the cooldown
	CooldownSeconds    float64   `json:"cooldown_seconds"`
	PassiveWaitSeconds float64   `json:"passive_wait_seconds"`
	FreshForSeconds    float64   `json:"fresh_for_seconds"`
	BackoffSeconds     []float64 `json:"backoff_seconds"`
}

type Config struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	// IANA name of the club's timezone, stored results are bucketed by day in it.
	Timezone string `json:"timezone"`

	Timeouts TimeoutsConfig `json:"timeouts"`
	Auth     AuthConfig     `json:"auth"`

	MaxAgreements    int     `json:"max_agreements"`
	Workers          int     `json:"workers"`
	RosterTtlMinutes float64 `json:"roster_ttl_minutes"`

	Store configlibsql.Struct `json:"store"`
}

var defaultConfig = Config{
	BaseUrl:  "https://www.club-os.com",
	Timezone: "America/New_York",
	Auth: AuthConfig{
		CooldownSeconds:    8,
		PassiveWaitSeconds: 12,
		FreshForSeconds:    120,
		BackoffSeconds:     []float64{0, 1.5, 3},
	},
	MaxAgreements:    payments.DefaultMaxAgreements,
	Workers:          1,
	RosterTtlMinutes: 15,
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, err
	}
	return configutil.WithDefaults(cfg, defaultConfig)
}

func (c Config) clientOptions() core.ClientOptions {
	return core.ClientOptions{
		BaseUrl:  c.BaseUrl,
		Username: c.Username,
		Password: c.Password,
		Timeouts: core.Timeouts{
			Light: seconds(c.Timeouts.LightSeconds),
			Bulk:  seconds(c.Timeouts.BulkSeconds),
			Login: seconds(c.Timeouts.LoginSeconds),
		},
	}
}

func (c Config) gatePolicy() core.GatePolicy {
	policy := core.DefaultGatePolicy()
	policy.Cooldown = seconds(c.Auth.CooldownSeconds)
	policy.PassiveWait = seconds(c.Auth.PassiveWaitSeconds)
	policy.FreshFor = seconds(c.Auth.FreshForSeconds)
	if len(c.Auth.BackoffSeconds) > 0 {
		policy.Backoffs = make([]time.Duration, len(c.Auth.BackoffSeconds))
		for i, s := range c.Auth.BackoffSeconds {
			policy.Backoffs[i] = seconds(s)
		}
	}
	return policy
}

func (c Config) rosterTtl() time.Duration {
	return time.Duration(c.RosterTtlMinutes * float64(time.Minute))
}
