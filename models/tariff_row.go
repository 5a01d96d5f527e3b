package models

import "regexp"

var hsCodePattern = regexp.MustCompile(`^\d{8}$`)

// ValidHSCode reports whether code is a well-formed 8-digit HS code
func ValidHSCode(code string) bool {
	return hsCodePattern.MatchString(code)
}

// MaxRateValue bounds every numeric rate field. Composite incidence values
// can legitimately exceed 100, but anything beyond this is parser noise.
const MaxRateValue = 10000

// ClampRate bounds a rate value to [0, MaxRateValue]
func ClampRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxRateValue {
		return MaxRateValue
	}
	return v
}

// TariffRow is one line of the national tariff rate table: an 8-digit HS
// code, its description, and the duty/tax rates that apply to it. Rows are
// keyed by (HSCode, Version); only one version per kind is active for
// retrieval at a time.
type TariffRow struct {
	HSCode            string  `json:"hs_code"`
	Description       string  `json:"description"`
	CustomsDuty       float64 `json:"customs_duty"`
	SupplementaryDuty float64 `json:"supplementary_duty"`
	VAT               float64 `json:"vat"`
	AdvanceIncomeTax  float64 `json:"advance_income_tax"`
	RegulatoryDuty    float64 `json:"regulatory_duty"`
	AdvanceTax        float64 `json:"advance_tax"`
	TotalTaxIncidence float64 `json:"total_tax_incidence"`
	Version           string  `json:"version"`
}

// ClampRates bounds all rate fields in place
func (r *TariffRow) ClampRates() {
	r.CustomsDuty = ClampRate(r.CustomsDuty)
	r.SupplementaryDuty = ClampRate(r.SupplementaryDuty)
	r.VAT = ClampRate(r.VAT)
	r.AdvanceIncomeTax = ClampRate(r.AdvanceIncomeTax)
	r.RegulatoryDuty = ClampRate(r.RegulatoryDuty)
	r.AdvanceTax = ClampRate(r.AdvanceTax)
	r.TotalTaxIncidence = ClampRate(r.TotalTaxIncidence)
}
