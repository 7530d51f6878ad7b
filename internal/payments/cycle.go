package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Cycle is a billing period in months. It only feeds labels; classification
// never reads it.
type Cycle int

const (
	Monthly    Cycle = 1
	Quarterly  Cycle = 3
	SemiAnnual Cycle = 6
	Annual     Cycle = 12
)

var namedCycles = map[string]Cycle{
	"monthly":     Monthly,
	"quarterly":   Quarterly,
	"semiannual":  SemiAnnual,
	"semi-annual": SemiAnnual,
	"biannual":    SemiAnnual,
	"annual":      Annual,
	"annually":    Annual,
	"yearly":      Annual,
}

func ParseCycle(raw string) (Cycle, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return 0, nil
	}
	if c, ok := namedCycles[raw]; ok {
		return c, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unknown payment cycle %q", raw)
	}
	return Cycle(n), nil
}

func (c *Cycle) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseCycle(s)
		if err != nil {
			return err
		}
		*c = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("payment cycle: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("negative payment cycle %d", n)
	}
	*c = Cycle(n)
	return nil
}

func (c Cycle) Label() string {
	switch c {
	case 0:
		return ""
	case Monthly:
		return "Monthly"
	case Quarterly:
		return "Quarterly"
	case SemiAnnual:
		return "Semi-annual"
	case Annual:
		return "Annual"
	}
	return fmt.Sprintf("Every %d months", int(c))
}
