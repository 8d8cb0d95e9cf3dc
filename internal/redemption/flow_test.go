package redemption

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/membership"
)

type discardMailer struct{}

func (discardMailer) SendVerificationEmail(context.Context, string, string) error { return nil }

func TestRegisteredCustomerCollectsPointsPastCardSize(t *testing.T) {
	ctx := context.Background()

	tokens, err := identity.NewPasetoService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	ids := identity.NewService(
		identity.NewMemoryStore(),
		tokens,
		identity.NewFileSessionStore(filepath.Join(t.TempDir(), "session.json")),
		discardMailer{},
		nil,
		logging.NewNopLogger(),
		identity.Options{TokenDuration: time.Hour, RecentAuthWindow: time.Minute, ResendCooldown: time.Minute},
	)
	ids.Start(ctx)

	records := account.NewMemoryStore()
	session, err := membership.NewService(ids, records, logging.NewNopLogger()).Register(ctx, "new@example.com", "password123")
	require.NoError(t, err)
	customerID := session.Identity.ID

	pub := &recordingPublisher{}
	p := NewProtocol(records, pub, logging.NewNopLogger())
	p.Enable("staff-1")

	redeem := func() *account.Record {
		t.Helper()
		outcome, accepted := p.Scan(ctx, customerID)
		require.True(t, accepted)
		require.Equal(t, OutcomeSuccess, outcome.Kind)
		require.True(t, p.Acknowledge())

		rec, err := records.GetRecord(ctx, customerID)
		require.NoError(t, err)
		return rec
	}

	for i := 1; i <= account.StampsPerReward; i++ {
		rec := redeem()
		assert.Equal(t, i, rec.Points)
	}

	rec, err := records.GetRecord(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, account.StampsPerReward, rec.Points)
	assert.Equal(t, account.StampsPerReward, rec.StampsFilled())

	rec = redeem()
	assert.Equal(t, account.StampsPerReward+1, rec.Points)
	assert.Equal(t, account.StampsPerReward, rec.StampsFilled(), "the card stays full")

	assert.Len(t, pub.events, account.StampsPerReward+1)
}
