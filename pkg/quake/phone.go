package quake

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// normalizeTelephone formats raw as E.164, reading national numbers in region.
func normalizeTelephone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTelephone)
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTelephone, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: %q is not a possible number for region %s", ErrInvalidTelephone, raw, region)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
