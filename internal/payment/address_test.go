package payment

import "testing"

// TestNormalizeAddress covers trimming, country upper-casing and the
// per-country postal code checks.
func TestNormalizeAddress(t *testing.T) {
	got, err := BillingAddress{
		Street:      "  12 Jalan Raya ",
		City:        " Ubud ",
		PostalCode:  "80571",
		CountryCode: "id",
	}.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got.CountryCode != "ID" || got.Street != "12 Jalan Raya" || got.City != "Ubud" {
		t.Errorf("unexpected normalization: %+v", got)
	}
}

func TestNormalizeAddressBadPostal(t *testing.T) {
	cases := []BillingAddress{
		{Street: "1 Main St", City: "Springfield", PostalCode: "ABCDE", CountryCode: "US"},
		{Street: "1 Main St", City: "Toronto", PostalCode: "12345", CountryCode: "CA"},
		{Street: "1 Main St", City: "Singapore", PostalCode: "1234", CountryCode: "SG"},
	}
	for _, a := range cases {
		if _, err := a.Normalize(); err == nil {
			t.Errorf("expected postal error for %s %q", a.CountryCode, a.PostalCode)
		}
	}
}

// TestNormalizeAddressUnknownCountry verifies that countries without a
// known postal shape accept anything non-empty.
func TestNormalizeAddressUnknownCountry(t *testing.T) {
	if _, err := (BillingAddress{Street: "1 Rua", City: "Lisboa", PostalCode: "odd-code", CountryCode: "pt"}).Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
}
