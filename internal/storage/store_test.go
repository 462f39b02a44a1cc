package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	f := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "risk.db"), "acct")
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("RISK_TEST_POSTGRES_DSN"); dsn != "" {
		f["postgres"] = func(t *testing.T) Store {
			account := "test-" + t.Name() + "-" + time.Now().Format("150405.000000000")
			s, err := OpenPostgres(context.Background(), dsn, account)
			require.NoError(t, err)
			return s
		}
	}
	return f
}

func TestStoreContract(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			outcomes, err := s.LoadOutcomes(ctx)
			require.NoError(t, err)
			assert.Empty(t, outcomes)

			log := []types.TradeOutcome{
				{Symbol: "BTCUSDT", PnLUSD: -120.5, Timestamp: t0, PositionID: "p1"},
				{Symbol: "ETHUSDT", PnLUSD: 80, Timestamp: t0.Add(time.Hour)},
				{Symbol: "BTCUSDT", PnLUSD: -10, Timestamp: t0.Add(30 * time.Minute)},
			}
			for _, o := range log {
				require.NoError(t, s.AppendOutcome(ctx, o))
			}
			outcomes, err = s.LoadOutcomes(ctx)
			require.NoError(t, err)
			assert.Equal(t, log, outcomes, "append order is preserved")

			a := types.OpenPositionRisk{ID: "b", Symbol: "SOLUSDT", Sector: "L1", RiskAmountUSD: 150, OpenedAt: t0.Add(time.Minute)}
			b := types.OpenPositionRisk{ID: "a", Symbol: "UNIUSDT", Sector: "DeFi", RiskAmountUSD: 75.25, OpenedAt: t0.Add(time.Minute)}
			c := types.OpenPositionRisk{ID: "z", Symbol: "BTCUSDT", RiskAmountUSD: 200, OpenedAt: t0}
			for _, p := range []types.OpenPositionRisk{a, b, c} {
				require.NoError(t, s.PutPosition(ctx, p))
			}

			a.RiskAmountUSD = 100
			require.NoError(t, s.PutPosition(ctx, a))

			positions, err := s.LoadPositions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []types.OpenPositionRisk{c, b, a}, positions)

			require.NoError(t, s.DeletePosition(ctx, "z"))
			require.NoError(t, s.DeletePosition(ctx, "unknown"))
			positions, err = s.LoadPositions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []types.OpenPositionRisk{b, a}, positions)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: -5, Timestamp: t0}))
	require.NoError(t, s.PutPosition(ctx, types.OpenPositionRisk{ID: "p", Symbol: "BTCUSDT", RiskAmountUSD: 10, OpenedAt: t0}))
	require.NoError(t, s.Close())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	outcomes, err := reopened.LoadOutcomes(ctx)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	positions, err := reopened.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestFileStoreIgnoresLeftoverTempFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: 1, Timestamp: t0}))
	require.NoError(t, s.Close())

	// a crash between write and rename leaves a torn temp file behind
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`{"version":1,"outcomes":[{"sym`), 0o644))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	outcomes, err := reopened.LoadOutcomes(ctx)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestFileStoreCorruptLedgerIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := NewFileStore(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rerrors.ErrStorage))

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock is released when open fails")
}

func TestFileStoreLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = NewFileStore(path)
	assert.True(t, rerrors.IsStorage(err), "second writer is refused")

	require.NoError(t, s.Close())
	again, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

// writeLock replaces the lock file of path as if another owner wrote it
func writeLock(t *testing.T, path string, info lockInfo) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".lock", data, 0o644))
}

func TestFileStoreOldLockOfLiveProcessIsHeld(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	a, err := NewFileStore(path)
	require.NoError(t, err)
	defer a.Close()

	// the owner is this process, so age alone does not make the lock stale
	info, err := a.readLock()
	require.NoError(t, err)
	info.Timestamp = time.Now().Add(-2 * staleLockAge)
	writeLock(t, path, info)

	_, err = NewFileStore(path)
	assert.True(t, rerrors.IsStorage(err), "second writer is refused")

	require.NoError(t, a.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: -5, Timestamp: t0}))
	refreshed, err := a.readLock()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), refreshed.Timestamp, time.Minute, "commit refreshes the lock")
}

func TestFileStoreRefreshKeepsLockFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := s.readLock()
	require.NoError(t, err)
	info.Timestamp = time.Now().Add(-time.Hour)
	writeLock(t, path, info)

	require.NoError(t, s.refreshLock())
	info, err = s.readLock()
	require.NoError(t, err)
	assert.Less(t, time.Since(info.Timestamp), staleLockAge)
}

func TestFileStoreTakeoverFencesPreviousOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	a, err := NewFileStore(path)
	require.NoError(t, err)

	// a lock from another host whose heartbeat stopped is stale
	info, err := a.readLock()
	require.NoError(t, err)
	info.Hostname = "elsewhere"
	info.Timestamp = time.Now().Add(-2 * staleLockAge)
	writeLock(t, path, info)

	b, err := NewFileStore(path)
	require.NoError(t, err)
	defer b.Close()

	err = a.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: -5, Timestamp: t0})
	assert.True(t, errors.Is(err, errLockLost), "previous owner can no longer write")
	require.NoError(t, b.AppendOutcome(ctx, types.TradeOutcome{Symbol: "ETHUSDT", PnLUSD: -7, Timestamp: t0}))

	require.NoError(t, a.Close())
	_, err = os.Stat(path + ".lock")
	require.NoError(t, err, "closing the previous owner keeps the new lock")

	require.NoError(t, b.Close())
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	outcomes, err := reopened.LoadOutcomes(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ETHUSDT", outcomes[0].Symbol)
}

func TestFileStoreFailedWriteKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: 1, Timestamp: t0}))

	// a directory at the temp path makes the write fail
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))
	err = s.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: 2, Timestamp: t0})
	assert.True(t, errors.Is(err, rerrors.ErrStorage))

	outcomes, err := s.LoadOutcomes(ctx)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	disk := errors.New("disk full")

	s.FailOn(OpAppendOutcome, disk)
	err := s.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT"})
	assert.True(t, errors.Is(err, rerrors.ErrStorage))
	assert.True(t, errors.Is(err, disk))

	s.FailOn(OpAppendOutcome, nil)
	assert.NoError(t, s.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT"}))

	require.NoError(t, s.Close())
	_, err = s.LoadPositions(ctx)
	assert.True(t, rerrors.IsStorage(err))
}

func TestSQLiteScopesByAccount(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	main, err := OpenSQLite(ctx, path, "main")
	require.NoError(t, err)
	require.NoError(t, main.AppendOutcome(ctx, types.TradeOutcome{Symbol: "BTCUSDT", PnLUSD: -1, Timestamp: t0}))
	require.NoError(t, main.Close())

	other, err := OpenSQLite(ctx, path, "hedge")
	require.NoError(t, err)
	defer other.Close()
	outcomes, err := other.LoadOutcomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", DialectPostgres.rebind(q))
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Options{Kind: "redis"})
	assert.True(t, errors.Is(err, rerrors.ErrInvalidConfig))

	s, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
