package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
)

// chunkSize bounds a single eth_getLogs query so public RPC endpoints do not
// reject the range.
const chunkSize = 10_000

// Gateway is the chain access the scanner needs.
type Gateway interface {
	Chain() config.ChainConfig
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	Decimals(ctx context.Context) (uint8, error)
	FilterTransfers(ctx context.Context, wallet common.Address, direction string, fromBlock, toBlock uint64) ([]gateway.TransferLog, error)
}

// Marks persists the per-chain, per-wallet scan position.
type Marks interface {
	Get(chain, wallet string) (uint64, bool, error)
	Set(chain, wallet string, block uint64) error
}

// Ledger records discovered transfers. Recording the same transfer twice must
// be a no-op.
type Ledger interface {
	Record(tx model.Transaction) error
}

// Result is the outcome of scanning one chain.
type Result struct {
	Chain     string           `json:"chain"`
	FromBlock uint64           `json:"from_block"`
	ToBlock   uint64           `json:"to_block"`
	Transfers []model.Transfer `json:"transfers"`
	NewMark   uint64           `json:"new_mark"`
}

// Scanner discovers USDC transfers touching the treasury wallet and folds
// them into the ledger, resuming from a persisted high water mark per chain.
type Scanner struct {
	gateways map[string]Gateway
	marks    Marks
	ledger   Ledger
	lookback uint64
	logger   *zap.Logger
}

func NewScanner(gateways map[string]Gateway, marks Marks, ledger Ledger, lookback uint64, logger *zap.Logger) *Scanner {
	return &Scanner{
		gateways: gateways,
		marks:    marks,
		ledger:   ledger,
		lookback: lookback,
		logger:   logger,
	}
}

// ScanChain scans one chain from the stored mark (or the lookback window on
// first run) up to the current head. Both directions are attempted even when
// one fails, but the mark only advances when both succeed, so a partial RPC
// failure is retried in full on the next run. An override start, when
// nonzero, wins over the stored mark.
func (s *Scanner) ScanChain(ctx context.Context, chainKey string, wallet common.Address, overrideStart uint64) (*Result, error) {
	g, ok := s.gateways[chainKey]
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", chainKey)
	}

	head, err := g.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get head on %s: %w", chainKey, err)
	}

	start, err := s.startBlock(chainKey, wallet, head, overrideStart)
	if err != nil {
		return nil, err
	}

	result := &Result{Chain: chainKey, FromBlock: start, ToBlock: head}
	if start > head {
		result.NewMark = head
		return result, nil
	}

	decimals, err := g.Decimals(ctx)
	if err != nil {
		return nil, err
	}

	highest := head
	blockTimes := map[uint64]time.Time{}
	var scanErr error
	for _, direction := range []string{model.DirectionOutgoing, model.DirectionIncoming} {
		logs, err := s.filterChunked(ctx, g, wallet, direction, start, head)
		if err != nil {
			// Partial results still flow; the mark stays put below so the
			// failed direction is rescanned next run.
			s.logger.Warn("Transfer query failed, skipping direction",
				zap.String("chain", chainKey),
				zap.String("direction", direction),
				zap.Error(err))
			if scanErr == nil {
				scanErr = fmt.Errorf("%s scan failed on %s: %w", direction, chainKey, err)
			}
			continue
		}
		for _, l := range logs {
			transfer := s.normalize(ctx, g, l, direction, decimals, blockTimes)
			result.Transfers = append(result.Transfers, transfer)
			if l.BlockNumber > highest {
				highest = l.BlockNumber
			}
			if direction == model.DirectionOutgoing {
				s.record(g.Chain(), transfer)
			}
		}
	}
	if scanErr != nil {
		return result, scanErr
	}

	if err := s.marks.Set(chainKey, wallet.Hex(), highest); err != nil {
		return result, err
	}
	result.NewMark = highest

	s.logger.Info("Scanned chain",
		zap.String("chain", chainKey),
		zap.Uint64("from_block", start),
		zap.Uint64("to_block", head),
		zap.Int("transfers", len(result.Transfers)))
	return result, nil
}

// ScanAll scans every configured chain, collecting per-chain failures instead
// of aborting the sweep.
func (s *Scanner) ScanAll(ctx context.Context, wallet common.Address) ([]Result, []error) {
	var results []Result
	var errs []error
	for chainKey := range s.gateways {
		result, err := s.ScanChain(ctx, chainKey, wallet, 0)
		if err != nil {
			errs = append(errs, err)
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, errs
}

func (s *Scanner) startBlock(chainKey string, wallet common.Address, head, override uint64) (uint64, error) {
	if override > 0 {
		return override, nil
	}
	mark, found, err := s.marks.Get(chainKey, wallet.Hex())
	if err != nil {
		return 0, err
	}
	if found {
		return mark + 1, nil
	}
	if head > s.lookback {
		return head - s.lookback, nil
	}
	return 0, nil
}

func (s *Scanner) filterChunked(ctx context.Context, g Gateway, wallet common.Address, direction string, from, to uint64) ([]gateway.TransferLog, error) {
	var all []gateway.TransferLog
	for chunkStart := from; chunkStart <= to; chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize - 1
		if chunkEnd > to {
			chunkEnd = to
		}
		logs, err := g.FilterTransfers(ctx, wallet, direction, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}
	return all, nil
}

func (s *Scanner) normalize(ctx context.Context, g Gateway, l gateway.TransferLog, direction string, decimals uint8, blockTimes map[uint64]time.Time) model.Transfer {
	ts, ok := blockTimes[l.BlockNumber]
	if !ok {
		var err error
		ts, err = g.BlockTime(ctx, l.BlockNumber)
		if err != nil {
			s.logger.Warn("Failed to resolve block time",
				zap.String("chain", g.Chain().Key),
				zap.Uint64("block_number", l.BlockNumber),
				zap.Error(err))
			ts = time.Time{}
		}
		blockTimes[l.BlockNumber] = ts
	}

	return model.Transfer{
		TxHash:      l.TxHash.Hex(),
		Chain:       g.Chain().Key,
		Direction:   direction,
		From:        l.From.Hex(),
		To:          l.To.Hex(),
		AmountUSDC:  gateway.FromRawAmount(l.Value, decimals),
		BlockNumber: l.BlockNumber,
		Timestamp:   ts,
	}
}

// record folds an outgoing transfer into the ledger. Incoming transfers are
// deliberately not written here: the auto-matcher decides whether one becomes
// an invoice payment or an uncategorized entry.
func (s *Scanner) record(chain config.ChainConfig, transfer model.Transfer) {
	entry := model.Transaction{
		TxHash:      transfer.TxHash,
		Chain:       chain.Key,
		ChainName:   chain.Name,
		Direction:   transfer.Direction,
		FromAddress: transfer.From,
		ToAddress:   transfer.To,
		AmountUSDC:  transfer.AmountUSDC,
		Type:        model.TxTypeTransfer,
		Status:      model.TxStatusConfirmed,
		BlockNumber: transfer.BlockNumber,
		Timestamp:   transfer.Timestamp,
		ExplorerURL: chain.ExplorerTxURL(transfer.TxHash),
	}
	if err := s.ledger.Record(entry); err != nil {
		s.logger.Warn("Failed to record scanned transfer",
			zap.String("tx_hash", transfer.TxHash),
			zap.String("chain", chain.Key),
			zap.Error(err))
	}
}
