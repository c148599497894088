package payment

import (
	"fmt"
	"regexp"
	"strings"
)

// BillingAddress is an international billing address in the
// street/city/region/postal/country shape the gateway expects.
// CountryCode is ISO 3166-1 alpha-2, upper-cased during
// normalization.
type BillingAddress struct {
	Street      string `json:"street" validate:"required"`
	City        string `json:"city" validate:"required"`
	Region      string `json:"region"`
	PostalCode  string `json:"postal_code" validate:"required"`
	CountryCode string `json:"country_code" validate:"required,iso3166_1_alpha2"`
}

// Postal code shapes for countries where the format is strict enough
// to be worth checking. Everywhere else any non-empty value passes;
// postal systems vary too much to guess.
var postalFormats = map[string]*regexp.Regexp{
	"US": regexp.MustCompile(`^\d{5}(-\d{4})?$`),
	"CA": regexp.MustCompile(`^[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d$`),
	"GB": regexp.MustCompile(`^[A-Za-z]{1,2}\d[A-Za-z\d]? ?\d[A-Za-z]{2}$`),
	"NL": regexp.MustCompile(`^\d{4} ?[A-Za-z]{2}$`),
	"AU": regexp.MustCompile(`^\d{4}$`),
	"ID": regexp.MustCompile(`^\d{5}$`),
	"SG": regexp.MustCompile(`^\d{6}$`),
}

// Normalize trims whitespace, upper-cases the country code and checks
// the postal code against the country's format where one is known.
func (a BillingAddress) Normalize() (BillingAddress, error) {
	out := BillingAddress{
		Street:      strings.TrimSpace(a.Street),
		City:        strings.TrimSpace(a.City),
		Region:      strings.TrimSpace(a.Region),
		PostalCode:  strings.TrimSpace(a.PostalCode),
		CountryCode: strings.ToUpper(strings.TrimSpace(a.CountryCode)),
	}
	if re, ok := postalFormats[out.CountryCode]; ok && !re.MatchString(out.PostalCode) {
		return BillingAddress{}, fmt.Errorf("postal code %q is not valid for %s", out.PostalCode, out.CountryCode)
	}
	return out, nil
}
