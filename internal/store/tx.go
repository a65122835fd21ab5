// Package store holds helpers shared by domain.Store implementations.
package store

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// Beginner opens a transaction. domain.Store opens a top-level transaction
// and domain.Tx opens a savepoint.
type Beginner interface {
	Begin(ctx context.Context) (domain.Tx, error)
}

// InTx runs fn inside a transaction opened on b. The transaction commits
// only when fn returns nil; any other exit, panics included, rolls it back.
func InTx(ctx context.Context, b Beginner, fn func(tx domain.Tx) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
