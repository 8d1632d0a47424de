package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muxd/dispatchd/pkg/config"
)

func TestBadgerLedger_RecordAndList(t *testing.T) {
	ledger, err := Open(t.TempDir())
	require.NoError(t, err)
	defer ledger.Close()

	entry := FailedRequest{
		Cookie:       42,
		ConnectionID: 7,
		Listener:     "queue-front",
		PacketLen:    128,
		Reason:       "upstream closed connection",
		Timestamp:    time.Now(),
	}

	require.NoError(t, ledger.Record(context.Background(), entry))

	entries, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.Cookie, entries[0].Cookie)
	assert.Equal(t, entry.Listener, entries[0].Listener)
}

func TestBadgerLedger_ListOrdersByTimestamp(t *testing.T) {
	ledger, err := Open(t.TempDir())
	require.NoError(t, err)
	defer ledger.Close()

	base := time.Now()
	for i, cookie := range []uint64{3, 1, 2} {
		entry := FailedRequest{
			Cookie:    cookie,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, ledger.Record(context.Background(), entry))
	}

	entries, err := ledger.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []uint64{3, 1, 2}, []uint64{entries[0].Cookie, entries[1].Cookie, entries[2].Cookie})
}

func TestNoopLedger_DiscardsEntries(t *testing.T) {
	var ledger NoopLedger
	assert.NoError(t, ledger.Record(context.Background(), FailedRequest{Cookie: 1}))
	assert.NoError(t, ledger.Close())
}

func TestNew_DisabledReturnsNoop(t *testing.T) {
	l, err := New(config.AuditConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, NoopLedger{}, l)
}

func TestNew_EnabledOpensBadger(t *testing.T) {
	l, err := New(config.AuditConfig{Enabled: true, Path: t.TempDir()})
	require.NoError(t, err)
	defer l.Close()
	assert.IsType(t, &BadgerLedger{}, l)
}
