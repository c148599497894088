package model

import "time"

// BaseCurrency is the currency villa prices are stored in.
const BaseCurrency = "IDR"

// ExchangeRate holds the most recently fetched conversion rate for a
// single currency. Rate is expressed as units of the currency per one
// unit of the base currency (IDR), so a converted amount is simply
// amount * Rate. At most one current row exists per currency; the
// refresh job overwrites it in place. Readers never talk to the
// external provider; they always see the last persisted value together
// with its age.
type ExchangeRate struct {
	CurrencyCode string    // exchange_rates.currency_code
	Rate         float64   // exchange_rates.rate
	FetchedAt    time.Time // exchange_rates.fetched_at
}
