package config

import (
	"strings"
	"time"
)

// RatesConfig defines the exchange-rate refresh job.  The provider is
// queried in batches to stay inside its per-request currency limit;
// the schedule keeps stored rates fresh enough for quoting.
type RatesConfig struct {
	ProviderURL string
	APIKey      string
	Currencies  []string
	BatchSize   int
	Interval    time.Duration
}

// LoadRatesConfig reads environment variables to build a RatesConfig.
// RATES_API_KEY is required; everything else has defaults.  The
// currency list is comma-separated ISO 4217 codes.
func LoadRatesConfig() RatesConfig {
	return RatesConfig{
		ProviderURL: envStr("RATES_PROVIDER_URL", "https://api.currencyapi.com/v3"),
		APIKey:      must("RATES_API_KEY"),
		Currencies:  splitCodes(envStr("RATES_CURRENCIES", "USD,EUR,GBP,AUD,SGD,JPY,CAD,NZD,CHF,HKD,CNY,KRW,MYR,THB,INR,RUB,AED,PHP,VND")),
		BatchSize:   envInt("RATES_BATCH_SIZE", 10),
		Interval:    envDur("RATES_REFRESH_INTERVAL", 6*time.Hour),
	}
}

func splitCodes(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
