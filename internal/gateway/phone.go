package gateway

import "strings"

// nationalDigits reduces raw to the national significant number of the
// country. It returns "" unless the result has exactly the expected length.
func nationalDigits(countryCode, raw string) string {
	c, ok := lookupCountry(countryCode)
	if !ok {
		return ""
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()

	d = strings.TrimPrefix(d, "00"+c.dial)
	if strings.HasPrefix(d, c.dial) && (len(d) == len(c.dial)+c.national || (c.trunk && len(d) == len(c.dial)+c.national+1)) {
		d = d[len(c.dial):]
	}
	if c.trunk && len(d) == c.national+1 && d[0] == '0' {
		d = d[1:]
	}
	if len(d) != c.national {
		return ""
	}
	return d
}

// MSISDN formats raw as country code plus national number, digits only.
func MSISDN(countryCode, raw string) string {
	d := nationalDigits(countryCode, raw)
	if d == "" {
		return ""
	}
	c, _ := lookupCountry(countryCode)
	return c.dial + d
}

// NationalNumber formats raw without country code, restoring the trunk
// zero where the country dials one domestically.
func NationalNumber(countryCode, raw string) string {
	d := nationalDigits(countryCode, raw)
	if d == "" {
		return ""
	}
	c, _ := lookupCountry(countryCode)
	if c.trunk {
		return "0" + d
	}
	return d
}
