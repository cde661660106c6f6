package order

import (
	"fmt"
	"strconv"
	"strings"
)

// Cents is a non-negative amount of money with two decimal places.
type Cents int64

func Dollars(d int64) Cents { return Cents(d * 100) }

// String formats as "$15.00".
func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, int64(c)/100, int64(c)%100)
}

func (c Cents) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts the String form, with or without the dollar sign.
func (c *Cents) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "$")
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return fmt.Errorf("invalid amount %q", text)
	}
	frac += strings.Repeat("0", 2-len(frac))
	d, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", text, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", text, err)
	}
	v := d*100 + f
	if neg {
		v = -v
	}
	*c = Cents(v)
	return nil
}
