package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/id"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const ledgerVersion = 1

// staleLockAge is how old the lock of another host must be before it may be
// taken over. Owners refresh their lock every lockHeartbeat.
const (
	staleLockAge  = 5 * time.Minute
	lockHeartbeat = time.Minute
)

var errLockLost = errors.New("ledger lock is owned by another process")

// ledger is the on-disk document of a FileStore
type ledger struct {
	Version   int                      `json:"version"`
	UpdatedAt time.Time                `json:"updated_at"`
	Outcomes  []types.TradeOutcome     `json:"outcomes"`
	Positions []types.OpenPositionRisk `json:"positions"`
}

// FileStore keeps the whole ledger in one JSON file. Every write goes to a
// temporary file that is renamed over the ledger, so a crash mid-write leaves
// the previous ledger intact. A lock file next to the ledger keeps a second
// process from writing the same account. The lock is refreshed on every
// commit and by a heartbeat, and a commit fails once the lock is lost.
type FileStore struct {
	mu       sync.RWMutex
	filePath string
	lockFile string
	token    string
	state    ledger
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewFileStore opens or creates the ledger at filePath and takes its lock
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		filePath = "risk_ledger.json"
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storageErr("open", fmt.Errorf("create ledger directory: %w", err))
		}
	}

	f := &FileStore{
		filePath: filePath,
		lockFile: filePath + ".lock",
		token:    id.New(),
		state:    ledger{Version: ledgerVersion},
		stop:     make(chan struct{}),
	}
	if err := f.lock(); err != nil {
		return nil, storageErr("open", err)
	}
	if err := f.load(); err != nil {
		f.unlock()
		return nil, storageErr("open", err)
	}

	f.wg.Add(1)
	go f.heartbeat(lockHeartbeat)
	return f, nil
}

// heartbeat keeps the lock fresh while the store is open
func (f *FileStore) heartbeat(interval time.Duration) {
	defer f.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.mu.Lock()
			if !f.closed {
				// a lost lock surfaces on the next commit
				_ = f.refreshLock()
			}
			f.mu.Unlock()
		}
	}
}

// Path returns the ledger file path
func (f *FileStore) Path() string {
	return f.filePath
}

func (f *FileStore) load() error {
	data, err := os.ReadFile(f.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger file: %w", err)
	}

	var state ledger
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal ledger %s: %w", f.filePath, err)
	}
	if state.Version != ledgerVersion {
		return fmt.Errorf("unsupported ledger version %d", state.Version)
	}
	seen := make(map[string]bool, len(state.Positions))
	for _, pos := range state.Positions {
		if pos.ID == "" || seen[pos.ID] {
			return fmt.Errorf("ledger has an empty or repeated position id %q", pos.ID)
		}
		seen[pos.ID] = true
	}
	f.state = state
	return nil
}

// commit writes next to disk and adopts it only after the rename succeeds
func (f *FileStore) commit(next ledger) error {
	if err := f.refreshLock(); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tempFile := f.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary ledger file: %w", err)
	}
	if err := os.Rename(tempFile, f.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit ledger file: %w", err)
	}

	f.state = next
	return nil
}

func (f *FileStore) clone() ledger {
	next := ledger{Version: f.state.Version}
	next.Outcomes = make([]types.TradeOutcome, len(f.state.Outcomes))
	copy(next.Outcomes, f.state.Outcomes)
	next.Positions = make([]types.OpenPositionRisk, len(f.state.Positions))
	copy(next.Positions, f.state.Positions)
	return next
}

func (f *FileStore) LoadOutcomes(ctx context.Context) ([]types.TradeOutcome, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, storageErr(OpLoadOutcomes, errClosed)
	}
	out := make([]types.TradeOutcome, len(f.state.Outcomes))
	copy(out, f.state.Outcomes)
	return out, nil
}

func (f *FileStore) AppendOutcome(ctx context.Context, outcome types.TradeOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storageErr(OpAppendOutcome, errClosed)
	}
	next := f.clone()
	next.Outcomes = append(next.Outcomes, outcome)
	return storageErr(OpAppendOutcome, f.commit(next))
}

func (f *FileStore) LoadPositions(ctx context.Context) ([]types.OpenPositionRisk, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, storageErr(OpLoadPositions, errClosed)
	}
	out := make([]types.OpenPositionRisk, len(f.state.Positions))
	copy(out, f.state.Positions)
	sortPositions(out)
	return out, nil
}

func (f *FileStore) PutPosition(ctx context.Context, pos types.OpenPositionRisk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storageErr(OpPutPosition, errClosed)
	}
	next := f.clone()
	replaced := false
	for i := range next.Positions {
		if next.Positions[i].ID == pos.ID {
			next.Positions[i] = pos
			replaced = true
			break
		}
	}
	if !replaced {
		next.Positions = append(next.Positions, pos)
	}
	return storageErr(OpPutPosition, f.commit(next))
}

func (f *FileStore) DeletePosition(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storageErr(OpDeletePosition, errClosed)
	}
	next := f.clone()
	kept := next.Positions[:0]
	for _, pos := range next.Positions {
		if pos.ID != id {
			kept = append(kept, pos)
		}
	}
	if len(kept) == len(f.state.Positions) {
		return nil
	}
	next.Positions = kept
	return storageErr(OpDeletePosition, f.commit(next))
}

// Close stops the heartbeat and releases the lock if this store still owns it
func (f *FileStore) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	close(f.stop)
	f.wg.Wait()
	return storageErr("close", f.unlock())
}

type lockInfo struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
}

func (f *FileStore) lockData() ([]byte, error) {
	data, err := json.Marshal(lockInfo{
		Token:     f.token,
		Timestamp: time.Now().UTC(),
		PID:       os.Getpid(),
		Hostname:  getHostname(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lock data: %w", err)
	}
	return data, nil
}

// lock creates the lock file, taking over a stale one
func (f *FileStore) lock() error {
	if _, err := os.Stat(f.lockFile); err == nil {
		if err := f.checkStaleLock(); err != nil {
			return err
		}
	}

	data, err := f.lockData()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(f.lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

func (f *FileStore) readLock() (lockInfo, error) {
	var info lockInfo
	data, err := os.ReadFile(f.lockFile)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

func (f *FileStore) ownsLock() bool {
	info, err := f.readLock()
	return err == nil && info.Token == f.token
}

// refreshLock rewrites the lock timestamp, failing when another store took it
func (f *FileStore) refreshLock() error {
	if !f.ownsLock() {
		return fmt.Errorf("%w: %s", errLockLost, f.lockFile)
	}
	data, err := f.lockData()
	if err != nil {
		return err
	}
	tempFile := f.lockFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to refresh lock file: %w", err)
	}
	if err := os.Rename(tempFile, f.lockFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to refresh lock file: %w", err)
	}
	return nil
}

func (f *FileStore) unlock() error {
	if !f.ownsLock() {
		return nil
	}
	if err := os.Remove(f.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// checkStaleLock removes a lock whose owner is gone. On this host the owner
// pid decides; a lock from another host is stale once its heartbeat stops.
func (f *FileStore) checkStaleLock() error {
	info, err := f.readLock()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return fmt.Errorf("failed to read lock file: %w", err)
		}
		// Unreadable lock file, remove it
		os.Remove(f.lockFile)
		return nil
	}

	stale := time.Since(info.Timestamp) > staleLockAge
	if info.Hostname == getHostname() {
		stale = !processAlive(info.PID)
	}
	if stale {
		os.Remove(f.lockFile)
		return nil
	}
	return fmt.Errorf("ledger %s is locked by pid %d on %s", f.filePath, info.PID, info.Hostname)
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
