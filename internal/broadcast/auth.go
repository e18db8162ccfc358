package broadcast

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"whale_go/internal/domain"
)

// Authenticator validates the credential a subscriber presents once, before upgrade.
type Authenticator struct {
	privateToken []byte
	vipKeys      [][]byte
}

// NewAuthenticator builds an authenticator. An empty private token disables the
// private tier; an empty key list disables the vip tier.
func NewAuthenticator(privateToken string, vipKeys []string) *Authenticator {
	a := &Authenticator{privateToken: []byte(privateToken)}
	for _, k := range vipKeys {
		if k = strings.TrimSpace(k); k != "" {
			a.vipKeys = append(a.vipKeys, []byte(k))
		}
	}
	return a
}

// LoadVIPKeys reads one key per line. Blank lines and # comments are skipped.
func LoadVIPKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vip keys: %w", err)
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vip keys: %w", err)
	}
	return keys, nil
}

// Check returns nil when credential grants access to tier, else an *domain.AuthError.
func (a *Authenticator) Check(tier Tier, credential string) error {
	switch tier {
	case TierPublic:
		return nil
	case TierPrivate:
		if credential == "" {
			return &domain.AuthError{Tier: string(tier), Reason: "missing token", Missing: true}
		}
		if len(a.privateToken) == 0 || subtle.ConstantTimeCompare([]byte(credential), a.privateToken) != 1 {
			return &domain.AuthError{Tier: string(tier), Reason: "invalid token"}
		}
		return nil
	case TierVIP:
		if credential == "" {
			return &domain.AuthError{Tier: string(tier), Reason: "missing key", Missing: true}
		}
		given := []byte(credential)
		match := 0
		// compare against every key so timing does not reveal the position
		for _, k := range a.vipKeys {
			match |= subtle.ConstantTimeCompare(given, k)
		}
		if match != 1 {
			return &domain.AuthError{Tier: string(tier), Reason: "key not whitelisted"}
		}
		return nil
	}
	return &domain.AuthError{Tier: string(tier), Reason: "unknown tier"}
}
