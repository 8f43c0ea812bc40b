package auth

import (
	"time"

	"github.com/dkravets/kinolog/internal/common"
)

// refreshTokenBytes is the entropy of a refresh secret before hex encoding.
const refreshTokenBytes = 32

// RefreshManager mints opaque refresh secrets and owns their expiry policy.
// It holds no state of its own: the current secret and its expiry live on
// the persisted account, managed by the session service.
type RefreshManager struct {
	validity time.Duration
}

// NewRefreshManager builds a manager with the given lifetime (7 days unless
// configured otherwise upstream).
func NewRefreshManager(validity time.Duration) *RefreshManager {
	return &RefreshManager{validity: validity}
}

// Generate returns a fresh high-entropy refresh secret: 32 random bytes,
// hex-encoded. It is a capability token with no internal structure, and no
// uniqueness check against storage is needed at this entropy.
func (m *RefreshManager) Generate() (string, error) {
	return common.MakeRandHexString(refreshTokenBytes)
}

// ExpiresAt is the expiry for a secret issued at the given instant. Pure
// function of now; the manager keeps no clock.
func (m *RefreshManager) ExpiresAt(now time.Time) time.Time {
	return now.Add(m.validity)
}

// Validity exposes the configured refresh-token lifetime.
func (m *RefreshManager) Validity() time.Duration {
	return m.validity
}
