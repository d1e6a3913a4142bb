package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnlimitedSentinel is the wire value for an unlimited ceiling
const UnlimitedSentinel = -1

// Limit is a usage ceiling: either Unlimited or Limited(n) with n >= 0.
// The zero value is Limited(0).
type Limit struct {
	n         int
	unlimited bool
}

// Unlimited returns a ceiling that never denies
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// Limited returns a ceiling of n uses per billing period
func Limited(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// IsUnlimited reports whether the ceiling never denies
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Value returns the numeric ceiling; ok is false for unlimited
func (l Limit) Value() (n int, ok bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n, true
}

// Int returns the ceiling with unlimited encoded as -1
func (l Limit) Int() int {
	if l.unlimited {
		return UnlimitedSentinel
	}
	return l.n
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(l.n)
}

func parseLimit(raw string) (Limit, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "unlimited" {
		return Unlimited(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Limit{}, fmt.Errorf("invalid limit %q", raw)
	}
	switch {
	case n == UnlimitedSentinel:
		return Unlimited(), nil
	case n < 0:
		return Limit{}, fmt.Errorf("invalid limit %d: must be >= 0 or unlimited", n)
	}
	return Limited(n), nil
}

// MarshalJSON encodes the ceiling as an integer, -1 for unlimited
func (l Limit) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Int())
}

// UnmarshalJSON accepts an integer (-1 for unlimited) or the string "unlimited"
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseLimit(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	parsed, err := parseLimit(string(data))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML encodes the ceiling as an integer or "unlimited"
func (l Limit) MarshalYAML() (interface{}, error) {
	if l.unlimited {
		return "unlimited", nil
	}
	return l.n, nil
}

// UnmarshalYAML accepts an integer or "unlimited"
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseLimit(value.Value)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
