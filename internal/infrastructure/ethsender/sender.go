package ethsender

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const defaultPollInterval = 2 * time.Second

// Backend is the slice of ethclient.Client the sender needs.
type Backend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

type Config struct {
	ChainID      *big.Int
	PollInterval time.Duration
}

// Sender signs EIP-1559 replacements with a single local key and broadcasts them.
type Sender struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	address      common.Address
	signer       types.Signer
	pollInterval time.Duration
}

func NewSender(backend Backend, key *ecdsa.PrivateKey, cfg Config) (*Sender, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if key == nil {
		return nil, errors.New("private key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Sender{
		backend:      backend,
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		signer:       types.LatestSignerForChainID(cfg.ChainID),
		pollInterval: cfg.PollInterval,
	}, nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (s *Sender) Address() string {
	return s.address.Hex()
}

func (s *Sender) Send(ctx context.Context, params domain.ReplacementParams) (application.SentTransaction, error) {
	if params.From != "" && !strings.EqualFold(params.From, s.address.Hex()) {
		return nil, fmt.Errorf("sender %s cannot sign for %s", s.address.Hex(), params.From)
	}
	if !common.IsHexAddress(params.To) {
		return nil, fmt.Errorf("invalid recipient %q", params.To)
	}
	if params.GasLimit == nil || !params.GasLimit.IsUint64() {
		return nil, fmt.Errorf("gas limit %v out of range", params.GasLimit)
	}
	to := common.HexToAddress(params.To)
	value := params.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.signer.ChainID(),
		Nonce:     params.Nonce,
		GasTipCap: params.MaxPriorityFeePerGas,
		GasFeeCap: params.MaxFeePerGas,
		Gas:       params.GasLimit.Uint64(),
		To:        &to,
		Value:     value,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign replacement: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifyBroadcastError(err)
	}
	return &sentTransaction{sender: s, hash: signed.Hash(), nonce: params.Nonce}, nil
}

type sentTransaction struct {
	sender *Sender
	hash   common.Hash
	nonce  uint64
}

func (t *sentTransaction) Hash() string {
	return t.hash.Hex()
}

// Wait polls for the receipt. A nonce consumed by some other transaction ends the wait with ErrNonceExpired.
func (t *sentTransaction) Wait(ctx context.Context) error {
	ticker := time.NewTicker(t.sender.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.sender.backend.TransactionReceipt(ctx, t.hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				// a reverted replacement still consumes the nonce
				return fmt.Errorf("%w: replacement %s reverted in block %v", application.ErrNonceExpired, t.hash.Hex(), receipt.BlockNumber)
			}
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("receipt %s: %w", t.hash.Hex(), err)
		}

		confirmed, err := t.sender.backend.NonceAt(ctx, t.sender.address, nil)
		if err != nil {
			return fmt.Errorf("nonce of %s: %w", t.sender.address.Hex(), err)
		}
		if confirmed > t.nonce {
			// the nonce may have been mined by the replacement itself just now
			receipt, err := t.sender.backend.TransactionReceipt(ctx, t.hash)
			if err == nil && receipt != nil && receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return fmt.Errorf("%w: nonce %d already confirmed", application.ErrNonceExpired, t.nonce)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var nonceExpiredMessages = []string{
	"nonce too low",
	"nonce expired",
	"nonce has already been used",
}

func classifyBroadcastError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range nonceExpiredMessages {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", application.ErrNonceExpired, err)
		}
	}
	return fmt.Errorf("broadcast replacement: %w", err)
}
