// Package migrate copies every (tree, key, value) triple from one
// storage.DB to another through ApplyBatch, as required by spec.md §4.1 —
// the one tool allowed to move data between the badger and sql engines.
package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/storage"
)

const batchSize = 500

// CopyTree streams every entry of the named tree from src to dst in
// batchSize-sized atomic batches, so an interrupted migration never leaves
// a tree half-written within a single batch (though across batches it may
// be partially migrated — callers re-run CopyTree to finish).
func CopyTree(ctx context.Context, src, dst storage.DB, treeName string, logger *zap.Logger) error {
	srcTree, err := src.OpenTree(ctx, treeName)
	if err != nil {
		return fmt.Errorf("open source tree %q: %w", treeName, err)
	}
	dstTree, err := dst.OpenTree(ctx, treeName)
	if err != nil {
		return fmt.Errorf("open destination tree %q: %w", treeName, err)
	}

	entries, err := srcTree.ScanPrefix(ctx, nil)
	if err != nil {
		return fmt.Errorf("scan source tree %q: %w", treeName, err)
	}

	var batch storage.Batch
	copied := 0
	for _, e := range entries {
		batch.Insert(e.Key, e.Value)
		if batch.Len() >= batchSize {
			if err := dstTree.ApplyBatch(ctx, &batch); err != nil {
				return fmt.Errorf("apply batch for tree %q: %w", treeName, err)
			}
			copied += batch.Len()
			batch = storage.Batch{}
		}
	}
	if batch.Len() > 0 {
		if err := dstTree.ApplyBatch(ctx, &batch); err != nil {
			return fmt.Errorf("apply final batch for tree %q: %w", treeName, err)
		}
		copied += batch.Len()
	}

	logger.Info("migrated tree", zap.String("tree", treeName), zap.Int("entries", copied))
	return nil
}

// CopyAll migrates every named tree in order.
func CopyAll(ctx context.Context, src, dst storage.DB, treeNames []string, logger *zap.Logger) error {
	for _, name := range treeNames {
		if err := CopyTree(ctx, src, dst, name, logger); err != nil {
			return err
		}
	}
	return nil
}
