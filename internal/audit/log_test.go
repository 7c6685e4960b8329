package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRepo struct{}

func (failingRepo) Append(context.Context, *domain.AuditEvent) error {
	return errors.New("db down")
}

func (failingRepo) Recent(context.Context, int) ([]domain.AuditEvent, error) {
	return nil, nil
}

func TestRecord_AssignsIDAndPersists(t *testing.T) {
	repo := memory.NewAuditStore()
	l := NewLog(repo, zerolog.Nop())

	l.Record(context.Background(), domain.AuditRebalanceExecuted, "wallet", map[string]interface{}{"pool": "p"})

	events := l.Recent(0)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, domain.AuditRebalanceExecuted, events[0].EventType)
	assert.False(t, events[0].Timestamp.IsZero())

	persisted, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, events[0].ID, persisted[0].ID)
}

func TestRecord_RepoErrorIsSwallowed(t *testing.T) {
	l := NewLog(failingRepo{}, zerolog.Nop())

	assert.NotPanics(t, func() {
		l.Record(context.Background(), domain.AuditKillSwitch, "", nil)
	})
	assert.Equal(t, 1, l.Len())
}

func TestRecord_TruncatesOnOverflow(t *testing.T) {
	l := NewLog(nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < MaxEntries; i++ {
		l.Record(ctx, domain.AuditRebalanceQueued, "w", map[string]interface{}{"n": i})
	}
	assert.Equal(t, MaxEntries, l.Len())

	l.Record(ctx, domain.AuditRebalanceQueued, "w", map[string]interface{}{"n": MaxEntries})
	assert.Equal(t, TruncateTo, l.Len())

	events := l.Recent(0)
	assert.Equal(t, MaxEntries, events[0].Details["n"])
	assert.Equal(t, MaxEntries-TruncateTo+1, events[len(events)-1].Details["n"])
}

func TestByWallet(t *testing.T) {
	l := NewLog(nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.Record(ctx, domain.AuditSecurityRejection, fmt.Sprintf("w%d", i%2), nil)
	}

	assert.Len(t, l.ByWallet("w0", 0), 3)
	assert.Len(t, l.ByWallet("w1", 0), 2)
	assert.Len(t, l.ByWallet("w0", 2), 2)
	assert.Len(t, l.Recent(4), 4)
}
