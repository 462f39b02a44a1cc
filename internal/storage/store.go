package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

const component = "storage"

var errClosed = errors.New("store is closed")

// Store persists one account's outcome log and open-positions table.
// Every failure is a STORAGE error matching rerrors.ErrStorage.
type Store interface {
	// LoadOutcomes returns the outcome log in append order
	LoadOutcomes(ctx context.Context) ([]types.TradeOutcome, error)
	AppendOutcome(ctx context.Context, outcome types.TradeOutcome) error

	LoadPositions(ctx context.Context) ([]types.OpenPositionRisk, error)
	// PutPosition inserts or replaces the position with the same id
	PutPosition(ctx context.Context, pos types.OpenPositionRisk) error
	// DeletePosition is a no-op for an unknown id
	DeletePosition(ctx context.Context, id string) error

	Close() error
}

// Kind selects a Store implementation
type Kind string

const (
	KindMemory   Kind = "memory"
	KindFile     Kind = "file"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Options configures Open
type Options struct {
	Kind    Kind
	Path    string // file and sqlite stores
	DSN     string // postgres store
	Account string // row scope for SQL stores
}

// Open creates the store selected by opts.Kind
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryStore(), nil
	case KindFile:
		s, err := NewFileStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindSQLite:
		s, err := OpenSQLite(ctx, opts.Path, opts.Account)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindPostgres:
		s, err := OpenPostgres(ctx, opts.DSN, opts.Account)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, rerrors.NewConfigurationError(component, "store", fmt.Sprintf("unknown store kind %q", opts.Kind))
	}
}

func storageErr(op string, err error) error {
	return rerrors.NewStorageError(component, op, err)
}

func sortPositions(positions []types.OpenPositionRisk) {
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].OpenedAt.Before(positions[j].OpenedAt)
		}
		return positions[i].ID < positions[j].ID
	})
}
