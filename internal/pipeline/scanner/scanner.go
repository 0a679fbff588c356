// Package scanner implements the block-walking ingestion pipeline:
// it follows the chain tip from a persisted cursor, ingesting
// transactions and receipts and detecting single-block-deep reorgs.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mantle-obs/worker/internal/metrics"
	"github.com/mantle-obs/worker/internal/revert"
	"github.com/mantle-obs/worker/internal/rpcclient"
	"github.com/mantle-obs/worker/internal/store"
)

// ProviderManager is the subset of provider.Manager the scanner needs.
type ProviderManager interface {
	GetPrimary(ctx context.Context) (int64, *rpcclient.Client, error)
	Allow(endpointID int64) bool
	MarkFailure(endpointID int64)
	RecordSuccess(endpointID int64)
}

// StateStore is the subset of store.StateStore the scanner needs.
type StateStore interface {
	GetLastScannedBlock(ctx context.Context) (store.LastScannedBlock, error)
	SetLastScannedBlock(ctx context.Context, blockNumber uint64, blockHash string, now time.Time) error
}

// TxStore is the subset of store.TxStore the scanner needs.
type TxStore interface {
	BatchInsert(ctx context.Context, txs []store.Transaction) error
	MarkTentative(ctx context.Context, fromBlock uint64) error
}

// ContractStore is the subset of store.ContractStore the scanner needs.
type ContractStore interface {
	LookupWatchedByAddress(ctx context.Context, addressLower string) (int64, bool, error)
}

// reorgTentativeDepth and reorgRescanDepth are deliberately
// asymmetric: a reorg at block n marks txs tentative back to n-10 but
// rewinds the cursor to n-20, so the rescan window is twice as deep
// as the tentative-flag window.
const (
	reorgTentativeDepth = 10
	reorgRescanDepth    = 20

	// blocksBehindThreshold is the adaptive-polling trigger: above
	// this many blocks behind tip, the scanner switches to the
	// catching-up interval.
	blocksBehindThreshold = 10
)

// Pipeline walks blocks from the persisted cursor, ingesting
// transactions and receipts and detecting single-block-deep reorgs.
type Pipeline struct {
	providers ProviderManager
	state     StateStore
	txs       TxStore
	contracts ContractStore

	defaultTimeout time.Duration
	batchSize      int
	logger         *zap.Logger

	lastBlockHash string
	catchingUp    bool
}

func New(providers ProviderManager, state StateStore, txs TxStore, contracts ContractStore, defaultTimeout time.Duration, batchSize int, logger *zap.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Pipeline{
		providers:      providers,
		state:          state,
		txs:            txs,
		contracts:      contracts,
		defaultTimeout: defaultTimeout,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// NextInterval reports the poll interval to use for the next cycle,
// implementing the tracking/catching_up two-state machine:
// trackingInterval once blocks_behind drops to the threshold,
// catchUpInterval above it.
func (p *Pipeline) NextInterval(trackingInterval, catchUpInterval time.Duration) time.Duration {
	if p.catchingUp {
		return catchUpInterval
	}
	return trackingInterval
}

// RunCycle executes one scanner cycle.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	primaryID, primary, err := p.providers.GetPrimary(ctx)
	if err != nil {
		return fmt.Errorf("scanner: no primary provider: %w", err)
	}
	if !p.providers.Allow(primaryID) {
		if p.logger != nil {
			p.logger.Warn("scanner: primary circuit open, skipping cycle", zap.Int64("endpoint_id", primaryID))
		}
		return nil
	}

	tip, err := primary.BlockNumber(ctx, p.defaultTimeout)
	if err != nil {
		p.providers.MarkFailure(primaryID)
		if p.logger != nil {
			p.logger.Warn("scanner: eth_blockNumber failed", zap.Int64("endpoint_id", primaryID), zap.Error(err))
		}
		return nil
	}
	p.providers.RecordSuccess(primaryID)

	last, err := p.state.GetLastScannedBlock(ctx)
	if err != nil {
		return fmt.Errorf("scanner: load cursor: %w", err)
	}

	if tip <= last.BlockNumber {
		p.catchingUp = false
		metrics.ScannerBlocksBehind.Set(0)
		return nil
	}

	blocksBehind := tip - last.BlockNumber
	p.catchingUp = blocksBehind > blocksBehindThreshold
	metrics.ScannerBlocksBehind.Set(float64(blocksBehind))

	batch := uint64(1)
	if p.catchingUp {
		batch = blocksBehind
		if batch > uint64(p.batchSize) {
			batch = uint64(p.batchSize)
		}
	}

	// Adopt the persisted hash after a restart, but never the 0x0
	// sentinel a reorg rollback leaves behind: parentage must be
	// re-established from the first re-scanned block.
	if p.lastBlockHash == "" && last.BlockHash != "0x0" {
		p.lastBlockHash = last.BlockHash
	}
	for n := last.BlockNumber + 1; n <= last.BlockNumber+batch; n++ {
		reorged, err := p.processBlock(ctx, primaryID, primary, n)
		if err != nil {
			return err
		}
		if reorged {
			return nil
		}
	}
	return nil
}

// processBlock ingests one block. It returns reorged=true if a
// parent-hash mismatch aborted the cycle.
func (p *Pipeline) processBlock(ctx context.Context, primaryID int64, primary *rpcclient.Client, n uint64) (reorged bool, err error) {
	block, err := primary.GetBlockByNumber(ctx, n, true, p.defaultTimeout)
	if err != nil {
		p.providers.MarkFailure(primaryID)
		return false, fmt.Errorf("scanner: get block %d: %w", n, err)
	}
	if block == nil {
		if p.logger != nil {
			p.logger.Warn("scanner: block not yet available", zap.Uint64("block_number", n))
		}
		return false, nil
	}

	if p.lastBlockHash != "" && !strings.EqualFold(block.ParentHash, p.lastBlockHash) {
		return true, p.handleReorg(ctx, n)
	}

	rows := make([]store.Transaction, 0, len(block.Transactions))
	blockTimestamp := int64(rpcclient.ParseHexUint64(block.Timestamp))
	now := time.Now().Unix()

	for _, tx := range block.Transactions {
		row, ok := p.buildRow(ctx, primaryID, primary, tx, n, blockTimestamp, now)
		if !ok {
			continue // per-tx failure: logged inside buildRow, block still advances
		}
		rows = append(rows, row)
	}

	if err := p.txs.BatchInsert(ctx, rows); err != nil {
		return false, fmt.Errorf("scanner: batch insert block %d: %w", n, err)
	}
	metrics.BlocksIngested.Inc()
	metrics.TxsIngested.Add(float64(len(rows)))

	p.lastBlockHash = block.Hash
	if err := p.state.SetLastScannedBlock(ctx, n, block.Hash, time.Now()); err != nil {
		return false, fmt.Errorf("scanner: persist cursor at block %d: %w", n, err)
	}
	return false, nil
}

// buildRow fetches a tx's receipt and constructs its Transaction row.
// A per-tx failure is logged and skipped; the block still advances.
func (p *Pipeline) buildRow(ctx context.Context, primaryID int64, primary *rpcclient.Client, tx rpcclient.Tx, blockNumber uint64, blockTimestamp, now int64) (store.Transaction, bool) {
	// Receipt failures inside a block can trip the breaker mid-block;
	// once it opens, skip the remaining fetches instead of hammering
	// the endpoint with one doomed call per tx.
	if !p.providers.Allow(primaryID) {
		if p.logger != nil {
			p.logger.Warn("scanner: circuit open, skipping receipt fetch",
				zap.Int64("endpoint_id", primaryID), zap.String("tx_hash", tx.Hash))
		}
		return store.Transaction{}, false
	}
	receipt, err := primary.GetTransactionReceipt(ctx, tx.Hash, p.defaultTimeout)
	if err != nil {
		p.providers.MarkFailure(primaryID)
		if p.logger != nil {
			p.logger.Error("scanner: get receipt failed", zap.String("tx_hash", tx.Hash), zap.Error(err))
		}
		return store.Transaction{}, false
	}
	if receipt == nil {
		if p.logger != nil {
			p.logger.Warn("scanner: receipt not yet available", zap.String("tx_hash", tx.Hash))
		}
		return store.Transaction{}, false
	}

	row := store.Transaction{
		Hash:           strings.ToLower(tx.Hash),
		BlockNumber:    blockNumber,
		BlockTimestamp: blockTimestamp,
		FromAddress:    strings.ToLower(tx.From),
		ValueWei:       rpcclient.ParseHexBig(tx.Value),
		GasUsed:        rpcclient.ParseHexUint64(receipt.GasUsed),
		GasPrice:       rpcclient.ParseHexUint64(tx.GasPrice),
		Status:         int(rpcclient.ParseHexUint64(receipt.Status)),
		HasTrace:       false,
		IsTentative:    false,
		IngestedAt:     now,
	}

	if tx.To != nil {
		lower := strings.ToLower(*tx.To)
		row.ToAddress = &lower
		if contractID, found, err := p.contracts.LookupWatchedByAddress(ctx, lower); err == nil && found {
			row.ContractID = &contractID
		}
	}

	if len(tx.Input) >= 10 && tx.Input != "0x" {
		methodID := strings.ToLower(tx.Input[:10])
		row.MethodID = &methodID
	}

	if row.Status == 0 && receipt.RevertReason != nil && *receipt.RevertReason != "" {
		row.ErrorRaw = receipt.RevertReason
		decoded := revert.Decode(*receipt.RevertReason)
		row.ErrorSignature = decoded.Signature
		row.ErrorDecoded = decoded.Message
		if decoded.Params != nil {
			if encoded, err := json.Marshal(decoded.Params); err == nil {
				row.ErrorParamsJSON = encoded
			}
		}
	}

	return row, true
}

// handleReorg performs the asymmetric rollback: mark txs tentative
// back to n-reorgTentativeDepth, but rewind the cursor to
// n-reorgRescanDepth so the next cycle re-establishes parentage
// further back than it flags as unconfirmed.
func (p *Pipeline) handleReorg(ctx context.Context, n uint64) error {
	tentativeFrom := uint64(0)
	if n > reorgTentativeDepth {
		tentativeFrom = n - reorgTentativeDepth
	}
	if err := p.txs.MarkTentative(ctx, tentativeFrom); err != nil {
		return fmt.Errorf("scanner: mark tentative from %d: %w", tentativeFrom, err)
	}

	rescanFrom := uint64(0)
	if n > reorgRescanDepth {
		rescanFrom = n - reorgRescanDepth
	}
	if err := p.state.SetLastScannedBlock(ctx, rescanFrom, "0x0", time.Now()); err != nil {
		return fmt.Errorf("scanner: reset cursor to %d: %w", rescanFrom, err)
	}

	p.lastBlockHash = ""
	metrics.ReorgsDetected.Inc()
	if p.logger != nil {
		p.logger.Warn("scanner: reorg detected",
			zap.Uint64("block_number", n),
			zap.Uint64("tentative_from", tentativeFrom),
			zap.Uint64("rescan_from", rescanFrom))
	}
	return nil
}
