package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"treasury/apps/treasury/internal/config"
	"treasury/apps/treasury/internal/events"
	"treasury/apps/treasury/internal/gateway"
	"treasury/apps/treasury/internal/model"
)

// CCTP v2 finality thresholds. Standard transfers wait for hard finality on
// the source chain; fast transfers accept soft finality and pay a fee.
const (
	FinalityStandard uint32 = 2000
	FinalityFast     uint32 = 1000
)

const externalMintMarker = "external"

// Gateway is the chain access the bridge needs. *gateway.Gateway satisfies it;
// tests substitute fakes.
type Gateway interface {
	Chain() config.ChainConfig
	Account() common.Address
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	SuggestFees(ctx context.Context) (gateway.FeeParams, error)
	EstimateGasWithBuffer(ctx context.Context, call ethereum.CallMsg) uint64
	SubmitCall(ctx context.Context, to common.Address, data []byte, fees gateway.FeeParams, gasLimit uint64) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*gateway.Receipt, error)
	NonceUsed(ctx context.Context, nonce [32]byte) (bool, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// Store persists bridge records.
type Store interface {
	Create(record model.BridgeRecord) error
	Get(burnTxHash string) (*model.BridgeRecord, error)
	Update(record model.BridgeRecord) error
	ListPending() ([]model.BridgeRecord, error)
}

// Ledger records transaction history entries.
type Ledger interface {
	Record(tx model.Transaction) error
	GetByHash(txHash string) (*model.Transaction, error)
	GetMintForBurn(burnTxHash string) (*model.Transaction, error)
}

// Oracle fetches attestations and fee quotes.
type Oracle interface {
	Fetch(ctx context.Context, sourceDomain uint32, txHash string) (*Attestation, error)
	FetchFees(ctx context.Context, sourceDomain, destDomain uint32) ([]BurnFee, error)
}

// Events is the optional outbox; nil disables notifications.
type Events interface {
	Enqueue(eventType string, payload interface{}) error
}

// Service drives CCTP burns end to end: approval, burn, attestation polling
// and destination mint, with every step persisted so an interrupted bridge
// resumes from its stored record.
type Service struct {
	cfg      *config.Config
	gateways map[string]Gateway
	store    Store
	ledger   Ledger
	oracle   Oracle
	outbox   Events
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewService(cfg *config.Config, gateways map[string]Gateway, store Store, ledger Ledger, oracle Oracle, outbox Events, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		gateways: gateways,
		store:    store,
		ledger:   ledger,
		oracle:   oracle,
		outbox:   outbox,
		logger:   logger,
		sleep:    sleepCtx,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) gateway(chain string) (Gateway, error) {
	g, ok := s.gateways[chain]
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", chain)
	}
	return g, nil
}

func (s *Service) enqueue(eventType string, payload interface{}) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.Enqueue(eventType, payload); err != nil {
		s.logger.Warn("Failed to enqueue event", zap.String("event_type", eventType), zap.Error(err))
	}
}

// Initiate burns USDC on the source chain and persists the resulting bridge
// record. It returns with the record in burn_confirmed; attestation polling
// and the destination mint are separate, resumable steps.
func (s *Service) Initiate(ctx context.Context, sourceChain, destChain string, amount decimal.Decimal, recipient common.Address, fast bool) (*model.BridgeRecord, error) {
	if sourceChain == destChain {
		return nil, fmt.Errorf("source and destination chain are both %q", sourceChain)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bridge amount must be positive, got %s", amount)
	}

	src, err := s.gateway(sourceChain)
	if err != nil {
		return nil, err
	}
	dst, err := s.gateway(destChain)
	if err != nil {
		return nil, err
	}

	decimals, err := src.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	rawAmount := gateway.ToRawAmount(amount, decimals)

	balance, err := src.BalanceOf(ctx, src.Account())
	if err != nil {
		return nil, err
	}
	if balance.Cmp(rawAmount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s on %s", ErrInsufficientBalance,
			gateway.FromRawAmount(balance, decimals), amount, sourceChain)
	}

	maxFee := big.NewInt(0)
	minFinality := FinalityStandard
	if fast {
		minFinality = FinalityFast
		maxFee, err = s.fastTransferFee(ctx, src.Chain(), dst.Chain(), rawAmount)
		if err != nil {
			return nil, err
		}
	}

	if err := s.ensureAllowance(ctx, src, rawAmount); err != nil {
		return nil, err
	}

	burnData, err := gateway.DepositForBurnCallData(rawAmount, dst.Chain().CCTPDomain, recipient,
		src.Chain().USDCAddress, maxFee, minFinality)
	if err != nil {
		return nil, err
	}

	receipt, txHash, err := s.submitAndWait(ctx, src, src.Chain().TokenMessenger, burnData)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		s.recordLeg(src.Chain(), txHash, model.TxTypeBridgeBurn, model.TxStatusFailed, amount, recipient.Hex(),
			receipt, "", destChain)
		return nil, &gateway.ChainError{Chain: sourceChain, TxHash: txHash.Hex(), Op: "depositForBurn"}
	}

	message, err := gateway.ExtractSentMessage(receipt.Logs, src.Chain().MessageTransmitter)
	if err != nil {
		return nil, fmt.Errorf("burn %s confirmed but no message found: %w", txHash.Hex(), err)
	}
	messageHash := crypto.Keccak256Hash(message)

	record := model.BridgeRecord{
		BurnTxHash:   txHash.Hex(),
		SourceChain:  sourceChain,
		DestChain:    destChain,
		AmountUSDC:   amount,
		Recipient:    recipient.Hex(),
		MessageHash:  messageHash.Hex(),
		MessageBytes: message,
		Status:       model.BridgeStatusBurnConfirmed,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	if err := s.store.Create(record); err != nil {
		return nil, err
	}

	s.recordLeg(src.Chain(), txHash, model.TxTypeBridgeBurn, model.TxStatusConfirmed, amount, recipient.Hex(),
		receipt, messageHash.Hex(), destChain)
	s.enqueue(events.TypeBridgeInitiated, record)

	s.logger.Info("Bridge burn confirmed",
		zap.String("burn_tx_hash", record.BurnTxHash),
		zap.String("source_chain", sourceChain),
		zap.String("dest_chain", destChain),
		zap.String("amount_usdc", amount.String()))
	return &record, nil
}

// fastTransferFee converts the oracle's fast-tier bps quote into a raw maxFee,
// rounded up so the quoted minimum is always covered.
func (s *Service) fastTransferFee(ctx context.Context, src, dst config.ChainConfig, rawAmount *big.Int) (*big.Int, error) {
	fees, err := s.oracle.FetchFees(ctx, src.CCTPDomain, dst.CCTPDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to quote fast transfer fee: %w", err)
	}
	for _, tier := range fees {
		if tier.FinalityThreshold == FinalityFast {
			fee := new(big.Int).Mul(rawAmount, big.NewInt(tier.MinimumFeeBps))
			fee.Add(fee, big.NewInt(9999))
			fee.Div(fee, big.NewInt(10000))
			return fee, nil
		}
	}
	return nil, fmt.Errorf("no fast transfer tier quoted for domains %d -> %d", src.CCTPDomain, dst.CCTPDomain)
}

// ensureAllowance approves the token messenger when the current allowance
// cannot cover the burn.
func (s *Service) ensureAllowance(ctx context.Context, g Gateway, rawAmount *big.Int) error {
	chain := g.Chain()
	allowance, err := g.Allowance(ctx, g.Account(), chain.TokenMessenger)
	if err != nil {
		return err
	}
	if allowance.Cmp(rawAmount) >= 0 {
		return nil
	}

	approveAmount := rawAmount
	if s.cfg.InfiniteApproval {
		approveAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	}

	data, err := gateway.ApproveCallData(chain.TokenMessenger, approveAmount)
	if err != nil {
		return err
	}
	receipt, txHash, err := s.submitAndWait(ctx, g, chain.USDCAddress, data)
	if err != nil {
		return fmt.Errorf("approval failed on %s: %w", chain.Key, err)
	}
	if !receipt.Succeeded() {
		return &gateway.ChainError{Chain: chain.Key, TxHash: txHash.Hex(), Op: "approve"}
	}

	decimals, err := g.Decimals(ctx)
	if err != nil {
		return err
	}
	s.recordLeg(chain, txHash, model.TxTypeApproval, model.TxStatusConfirmed,
		gateway.FromRawAmount(rawAmount, decimals), chain.TokenMessenger.Hex(), receipt, "", "")

	s.logger.Info("Approved token messenger",
		zap.String("chain", chain.Key),
		zap.String("tx_hash", txHash.Hex()))
	return nil
}

func (s *Service) submitAndWait(ctx context.Context, g Gateway, to common.Address, data []byte) (*gateway.Receipt, common.Hash, error) {
	fees, err := g.SuggestFees(ctx)
	if err != nil {
		return nil, common.Hash{}, err
	}
	account := g.Account()
	gasLimit := g.EstimateGasWithBuffer(ctx, ethereum.CallMsg{From: account, To: &to, Data: data})

	txHash, err := g.SubmitCall(ctx, to, data, fees, gasLimit)
	if err != nil {
		return nil, common.Hash{}, err
	}
	receipt, err := g.WaitForReceipt(ctx, txHash, s.cfg.ReceiptTimeout)
	if err != nil {
		return nil, txHash, err
	}
	return receipt, txHash, nil
}

// recordLeg writes one ledger entry for a bridge-related transaction.
func (s *Service) recordLeg(chain config.ChainConfig, txHash common.Hash, txType, status string,
	amount decimal.Decimal, counterparty string, receipt *gateway.Receipt, messageHash, burnLink string) {

	direction := model.DirectionOutgoing
	from := ""
	to := counterparty
	if txType == model.TxTypeBridgeMint {
		direction = model.DirectionIncoming
		from = counterparty
		to = ""
	}

	entry := model.Transaction{
		TxHash:          txHash.Hex(),
		Chain:           chain.Key,
		ChainName:       chain.Name,
		Direction:       direction,
		FromAddress:     from,
		ToAddress:       to,
		AmountUSDC:      amount,
		Type:            txType,
		Status:          status,
		BlockNumber:     receipt.BlockNumber,
		GasUsed:         receipt.GasUsed,
		Timestamp:       s.now(),
		ExplorerURL:     chain.ExplorerTxURL(txHash.Hex()),
		CCTPMessageHash: messageHash,
		CCTPBurnTx:      burnLink,
	}
	if txType == model.TxTypeBridgeBurn {
		// burnLink names the destination chain on the burn leg.
		entry.Memo = fmt.Sprintf("bridge to %s", burnLink)
		entry.CCTPBurnTx = ""
	}
	if err := s.ledger.Record(entry); err != nil {
		s.logger.Warn("Failed to record ledger entry",
			zap.String("tx_hash", txHash.Hex()),
			zap.String("type", txType),
			zap.Error(err))
	}
}

// PollAttestation waits for the oracle to attest a burn, up to timeout. The
// record moves to awaiting_attestation while polling and attestation_received
// on success; on timeout it stays awaiting_attestation and can be re-polled.
func (s *Service) PollAttestation(ctx context.Context, burnTxHash string, timeout time.Duration) (*model.BridgeRecord, error) {
	record, err := s.store.Get(burnTxHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	if record.Status == model.BridgeStatusCompleted {
		return record, ErrAlreadyCompleted
	}
	if record.Status == model.BridgeStatusAttestationReceived && len(record.Attestation) > 0 {
		return record, nil
	}

	src, err := s.gateway(record.SourceChain)
	if err != nil {
		return nil, err
	}

	if record.Status == model.BridgeStatusBurnConfirmed {
		record.Status = model.BridgeStatusAwaitingAttestation
		record.UpdatedAt = s.now()
		if err := s.store.Update(*record); err != nil {
			return nil, err
		}
	}

	backoff := NewBackoff()
	deadline := s.now().Add(timeout)
	for {
		attestation, err := s.oracle.Fetch(ctx, src.Chain().CCTPDomain, burnTxHash)
		switch {
		case err == nil:
			record.Attestation = attestation.Attestation
			if len(attestation.Message) > 0 {
				record.MessageBytes = attestation.Message
				record.MessageHash = crypto.Keccak256Hash(attestation.Message).Hex()
			}
			record.Status = model.BridgeStatusAttestationReceived
			record.UpdatedAt = s.now()
			if err := s.store.Update(*record); err != nil {
				return nil, err
			}
			s.enqueue(events.TypeBridgeAttested, record)
			return record, nil
		case errors.Is(err, ErrAttestationPending), errors.Is(err, ErrRateLimited), errors.Is(err, ErrOracleUnavailable):
			if s.now().After(deadline) {
				return record, ErrAttestationTimeout
			}
			delay := backoff.Next(errors.Is(err, ErrRateLimited))
			s.logger.Debug("Attestation not ready",
				zap.String("burn_tx_hash", burnTxHash),
				zap.Duration("retry_in", delay))
			if err := s.sleep(ctx, delay); err != nil {
				return record, err
			}
		default:
			return record, err
		}
	}
}

// CompleteMint finishes a bridge: when no attestation is stored yet it polls
// the oracle first, then submits receiveMessage on the destination chain.
// Calling it on an already-completed record returns the record unchanged.
func (s *Service) CompleteMint(ctx context.Context, burnTxHash string, pollTimeout time.Duration) (*model.BridgeRecord, error) {
	record, err := s.store.Get(burnTxHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	if record.Status == model.BridgeStatusCompleted {
		return record, nil
	}
	if len(record.Attestation) == 0 {
		record, err = s.PollAttestation(ctx, burnTxHash, pollTimeout)
		if err != nil {
			return record, err
		}
	}
	return s.mint(ctx, record)
}

func (s *Service) mint(ctx context.Context, record *model.BridgeRecord) (*model.BridgeRecord, error) {
	dst, err := s.gateway(record.DestChain)
	if err != nil {
		return nil, err
	}

	nonce, err := gateway.MessageNonce(record.MessageBytes)
	if err != nil {
		return nil, err
	}
	used, err := dst.NonceUsed(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if used {
		// The nonce was consumed by a mint this record never saw. Converge the
		// record so the bridge leaves the pending set, but surface the
		// conflict instead of pretending this call minted anything.
		if record.MintTxHash == "" {
			record.MintTxHash = externalMintMarker
		}
		record.Status = model.BridgeStatusCompleted
		record.UpdatedAt = s.now()
		if err := s.store.Update(*record); err != nil {
			return nil, err
		}
		s.logger.Warn("Mint nonce already consumed on destination",
			zap.String("burn_tx_hash", record.BurnTxHash))
		s.enqueue(events.TypeBridgeCompleted, record)
		return record, ErrAlreadyCompleted
	}

	data, err := gateway.ReceiveMessageCallData(record.MessageBytes, record.Attestation)
	if err != nil {
		return nil, err
	}
	receipt, txHash, err := s.submitAndWait(ctx, dst, dst.Chain().MessageTransmitter, data)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		return record, &gateway.ChainError{Chain: record.DestChain, TxHash: txHash.Hex(), Op: "receiveMessage"}
	}

	record.MintTxHash = txHash.Hex()
	record.Status = model.BridgeStatusCompleted
	record.UpdatedAt = s.now()
	if err := s.store.Update(*record); err != nil {
		return nil, err
	}

	s.recordLeg(dst.Chain(), txHash, model.TxTypeBridgeMint, model.TxStatusConfirmed,
		record.AmountUSDC, record.Recipient, receipt, record.MessageHash, record.BurnTxHash)
	s.enqueue(events.TypeBridgeCompleted, record)

	s.logger.Info("Bridge mint confirmed",
		zap.String("burn_tx_hash", record.BurnTxHash),
		zap.String("mint_tx_hash", record.MintTxHash),
		zap.String("dest_chain", record.DestChain))
	return record, nil
}

// RetryMint re-submits the mint for a bridge whose attestation is already
// persisted, recovering from a failed mint without touching the oracle. A
// record with no stored attestation fails with ErrNoStoredAttestation.
func (s *Service) RetryMint(ctx context.Context, burnTxHash string) (*model.BridgeRecord, error) {
	record, err := s.store.Get(burnTxHash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	if record.Status == model.BridgeStatusCompleted {
		return record, nil
	}
	if len(record.Attestation) == 0 {
		return record, ErrNoStoredAttestation
	}
	return s.mint(ctx, record)
}

// StatusResult is the composed view returned by Status.
type StatusResult struct {
	Record *model.BridgeRecord `json:"record,omitempty"`
	Burn   *model.Transaction  `json:"burn,omitempty"`
	Mint   *model.Transaction  `json:"mint,omitempty"`
}

// Status reports a bridge's state by burn hash. When no bridge record exists
// it falls back to ledger entries so history imported from scans still
// resolves.
func (s *Service) Status(ctx context.Context, burnTxHash string) (*StatusResult, error) {
	result := &StatusResult{}

	record, err := s.store.Get(burnTxHash)
	if err != nil {
		return nil, err
	}
	result.Record = record

	burn, err := s.ledger.GetByHash(burnTxHash)
	if err != nil {
		return nil, err
	}
	result.Burn = burn

	mint, err := s.ledger.GetMintForBurn(burnTxHash)
	if err != nil {
		return nil, err
	}
	result.Mint = mint

	if result.Record == nil && result.Burn == nil {
		return nil, ErrNotFound
	}
	return result, nil
}

// ListPending returns incomplete bridge records, newest first.
func (s *Service) ListPending() ([]model.BridgeRecord, error) {
	return s.store.ListPending()
}

// Fees quotes the oracle's burn fee tiers between two configured chains.
func (s *Service) Fees(ctx context.Context, sourceChain, destChain string) ([]BurnFee, error) {
	src, err := s.gateway(sourceChain)
	if err != nil {
		return nil, err
	}
	dst, err := s.gateway(destChain)
	if err != nil {
		return nil, err
	}
	return s.oracle.FetchFees(ctx, src.Chain().CCTPDomain, dst.Chain().CCTPDomain)
}
