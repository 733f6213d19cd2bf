// Package hub submits encoded attestation requests to the FdcHub contract and
// maps the accepting block to its voting round.
package hub

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/rounds"
)

const (
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultReceiptTimeout      = 3 * time.Minute
	// gasLimitBufferPercent is added on top of the estimate.
	gasLimitBufferPercent = 20
)

// ErrNotSent marks a submission that failed before or while broadcasting its
// transaction.
var ErrNotSent = errors.New("request transaction not sent")

// Caller is the read-only part of an Ethereum client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend is the subset of *ethclient.Client the submitter uses.
type Backend interface {
	Caller
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type Config struct {
	Hub                 common.Address
	FeeConfig           common.Address
	ChainID             *big.Int
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
}

// Submission is an accepted request: the transaction that carried it and the
// voting round it was assigned to.
type Submission struct {
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   uint64
	RoundID     uint64
	Fee         *big.Int
}

type Submitter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	cfg     Config
	clock   *rounds.Clock
	logger  *zap.Logger
}

type Option func(*Submitter)

func WithLogger(l *zap.Logger) Option {
	return func(s *Submitter) { s.logger = l.Named("hub") }
}

func NewSubmitter(backend Backend, key *ecdsa.PrivateKey, cfg Config, clock *rounds.Clock, opts ...Option) (*Submitter, error) {
	if key == nil {
		return nil, errors.New("hub: signing key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("hub: chain id is required")
	}
	if clock == nil {
		return nil, errors.New("hub: round clock is required")
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	s := &Submitter{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
		clock:   clock,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Submitter) Address() common.Address { return s.from }

// RequestFee returns the fee the hub charges for request.
func (s *Submitter) RequestFee(ctx context.Context, request attestation.EncodedRequest) (*big.Int, error) {
	data, err := feeABI.Pack("getRequestFee", []byte(request))
	if err != nil {
		return nil, fmt.Errorf("pack getRequestFee: %w", err)
	}
	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &s.cfg.FeeConfig, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getRequestFee: %w", err)
	}
	values, err := feeABI.Unpack("getRequestFee", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getRequestFee: %w", err)
	}
	return values[0].(*big.Int), nil
}

// Submit sends request to the hub with the required fee and waits until it is
// mined. Any failure is an ErrSubmission. Submit never resends: once a
// transaction was broadcast the outcome must be settled by its receipt.
//
// beforeSend, when set, sees the signed transaction before it is broadcast.
// An error from it aborts the submission with nothing sent. Failures after the
// broadcast that a later Settle can still clear also match
// attestation.ErrSubmissionUnsettled.
func (s *Submitter) Submit(ctx context.Context, request attestation.EncodedRequest, beforeSend func(*types.Transaction) error) (*Submission, error) {
	fee, err := s.RequestFee(ctx, request)
	if err != nil {
		return submissionNotSent("%v", err)
	}
	data, err := hubABI.Pack("requestAttestation", []byte(request))
	if err != nil {
		return submissionNotSent("pack requestAttestation: %v", err)
	}

	gasLimit, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &s.cfg.Hub, Value: fee, Data: data})
	if err != nil {
		return submissionNotSent("estimate gas: %v", err)
	}
	gasLimit += gasLimit * gasLimitBufferPercent / 100

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return submissionNotSent("get nonce: %v", err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return submissionNotSent("get gas price: %v", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.cfg.Hub,
		Value:    fee,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.cfg.ChainID), s.key)
	if err != nil {
		return submissionNotSent("sign transaction: %v", err)
	}
	if beforeSend != nil {
		if err := beforeSend(signed); err != nil {
			return submissionNotSent("record transaction %s: %v", signed.Hash().Hex(), err)
		}
	}

	s.logger.Info("submitting attestation request",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("request_key", request.Key().Hex()),
		zap.String("fee", fee.String()),
		zap.Uint64("gas_limit", gasLimit),
		zap.Uint64("nonce", nonce))

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return submissionNotSent("send transaction: %v", err)
	}
	return s.Settle(ctx, request, signed.Hash(), fee)
}

// Settle waits for the receipt of a broadcast request transaction and maps
// its block onto the voting round. A missing receipt or an unreadable block is
// an unsettled failure; a reverted transaction or a missing hub event is final.
func (s *Submitter) Settle(ctx context.Context, request attestation.EncodedRequest, txHash common.Hash, fee *big.Int) (*Submission, error) {
	receipt, err := s.waitReceipt(ctx, txHash)
	if err != nil {
		return submissionUnsettled("wait for %s: %v", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return submissionFailed("transaction %s reverted", txHash.Hex())
	}
	if err := s.checkEvent(receipt, request); err != nil {
		return submissionFailed("transaction %s: %v", txHash.Hex(), err)
	}

	header, err := s.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return submissionUnsettled("read block %s: %v", receipt.BlockNumber, err)
	}
	round, err := s.clock.RoundAt(header.Time)
	if err != nil {
		return submissionFailed("%v", err)
	}

	sub := &Submission{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Timestamp:   header.Time,
		RoundID:     round,
		Fee:         fee,
	}
	s.logger.Info("attestation request accepted",
		zap.String("tx_hash", sub.TxHash.Hex()),
		zap.Uint64("block", sub.BlockNumber),
		zap.Uint64("round", sub.RoundID))
	return sub, nil
}

func submissionFailed(format string, args ...any) (*Submission, error) {
	return nil, fmt.Errorf("%w: %s", attestation.ErrSubmission, fmt.Sprintf(format, args...))
}

func submissionNotSent(format string, args ...any) (*Submission, error) {
	return nil, fmt.Errorf("%w: %w: %s", attestation.ErrSubmission, ErrNotSent, fmt.Sprintf(format, args...))
}

func submissionUnsettled(format string, args ...any) (*Submission, error) {
	return nil, fmt.Errorf("%w: %w: %s", attestation.ErrSubmission, attestation.ErrSubmissionUnsettled, fmt.Sprintf(format, args...))
}

func (s *Submitter) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
	defer cancel()

	b := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.ReceiptPollInterval), ctx)
	return backoff.RetryNotifyWithData(func() (*types.Receipt, error) {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return receipt, nil
	}, b, func(err error, wait time.Duration) {
		s.logger.Debug("receipt not available yet", zap.String("tx_hash", hash.Hex()), zap.Duration("retry_in", wait))
	})
}

// checkEvent requires an AttestationRequest log from the hub carrying request.
func (s *Submitter) checkEvent(receipt *types.Receipt, request attestation.EncodedRequest) error {
	for _, l := range receipt.Logs {
		if l.Address != s.cfg.Hub || len(l.Topics) == 0 || l.Topics[0] != attestationEvent.ID {
			continue
		}
		values, err := attestationEvent.Inputs.Unpack(l.Data)
		if err != nil {
			return fmt.Errorf("decode AttestationRequest: %w", err)
		}
		if bytes.Equal(values[0].([]byte), request) {
			return nil
		}
	}
	return errors.New("no AttestationRequest event for the request")
}

// LoadClock reads the voting round timing from the systems manager contract.
func LoadClock(ctx context.Context, caller Caller, systemsManager common.Address) (*rounds.Clock, error) {
	read := func(method string) (uint64, error) {
		data, err := systemsABI.Pack(method)
		if err != nil {
			return 0, err
		}
		out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &systemsManager, Data: data}, nil)
		if err != nil {
			return 0, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := systemsABI.Unpack(method, out)
		if err != nil {
			return 0, fmt.Errorf("unpack %s: %w", method, err)
		}
		return values[0].(uint64), nil
	}

	start, err := read("firstVotingRoundStartTs")
	if err != nil {
		return nil, err
	}
	duration, err := read("votingEpochDurationSeconds")
	if err != nil {
		return nil, err
	}
	return rounds.NewClock(start, time.Duration(duration)*time.Second)
}
