package memory

import (
	"fmt"
	"regexp"
	"strings"
)

var unsafeKey = regexp.MustCompile(`[^a-z0-9]+`)

func UserNamespace(userID uint64) string {
	return fmt.Sprintf("user_%d", userID)
}

func CoupleNamespace(coupleID uint64) string {
	return fmt.Sprintf("couple_%d", coupleID)
}

// PartnerNamespace scopes one partner's memories inside a couple. Returns ""
// when partner has no usable characters.
func PartnerNamespace(coupleID uint64, partner string) string {
	key := strings.Trim(unsafeKey.ReplaceAllString(strings.ToLower(partner), "_"), "_")
	if key == "" {
		return ""
	}
	return fmt.Sprintf("couple_%d_partner_%s", coupleID, key)
}
