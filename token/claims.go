package token

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the token payload. iat and exp are NumericDates kept to the
// millisecond, so exp lands exactly TTL after issuance.
type claims struct {
	Subject   string      `json:"sub,omitempty"`
	IssuedAt  *millisDate `json:"iat,omitempty"`
	ExpiresAt *millisDate `json:"exp,omitempty"`
}

var _ jwt.Claims = (*claims)(nil)

func (c *claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt.numericDate(), nil }
func (c *claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt.numericDate(), nil }
func (c *claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *claims) GetIssuer() (string, error)                   { return "", nil }
func (c *claims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c *claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// millisDate is a JWT NumericDate with a millisecond fraction. Whole seconds
// encode as plain integers. Decoding accepts any decimal NumericDate and
// keeps the fraction exactly instead of going through float64.
type millisDate struct {
	time.Time
}

func newMillisDate(t time.Time) *millisDate {
	return &millisDate{Time: t.Truncate(time.Millisecond)}
}

func (d *millisDate) numericDate() *jwt.NumericDate {
	if d == nil {
		return nil
	}
	return &jwt.NumericDate{Time: d.Time}
}

// MarshalJSON writes seconds since the epoch with up to three decimals
func (d millisDate) MarshalJSON() ([]byte, error) {
	ms := d.UnixMilli()
	sec, frac := ms/1000, ms%1000
	if frac < 0 {
		sec--
		frac += 1000
	}
	if frac == 0 {
		return []byte(strconv.FormatInt(sec, 10)), nil
	}
	return []byte(fmt.Sprintf("%d.%03d", sec, frac)), nil
}

// UnmarshalJSON parses a JSON number of seconds since the epoch
func (d *millisDate) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}

	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric date %q: %w", s, err)
		}
		d.Time = time.Unix(0, int64(f*float64(time.Second)))
		return nil
	}

	whole, fraction, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric date %q: %w", s, err)
	}

	var nsec int64
	if fraction != "" {
		if len(fraction) > 9 {
			fraction = fraction[:9]
		}
		nsec, err = strconv.ParseInt(fraction+strings.Repeat("0", 9-len(fraction)), 10, 64)
		if err != nil || nsec < 0 {
			return fmt.Errorf("invalid numeric date %q", s)
		}
		if strings.HasPrefix(whole, "-") {
			nsec = -nsec
		}
	}

	d.Time = time.Unix(sec, nsec)
	return nil
}
