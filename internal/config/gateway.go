package config

import "time"

// GatewayConfig defines the payment gateway connection and the 3-D
// Secure challenge polling behaviour.  The attempt cap and wall-clock
// budget bound how long an abandoned challenge can hold a session in
// IN_REVIEW before it is failed with challenge_timeout.
type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PollAttempts int
	PollBudget   time.Duration
}

// LoadGatewayConfig reads environment variables to build a
// GatewayConfig.  GATEWAY_API_KEY is required.
func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BaseURL:      envStr("GATEWAY_BASE_URL", "https://api.xendit.co"),
		APIKey:       must("GATEWAY_API_KEY"),
		PollInterval: envDur("GATEWAY_POLL_INTERVAL", 3*time.Second),
		PollAttempts: envInt("GATEWAY_POLL_ATTEMPTS", 40),
		PollBudget:   envDur("GATEWAY_POLL_BUDGET", 5*time.Minute),
	}
}
