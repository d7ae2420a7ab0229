package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openx402/x402-go/clients"
	"github.com/openx402/x402-go/types"
)

// SolanaProcessorConfig is the configuration for the Solana settlement
// processor.
type SolanaProcessorConfig struct {
	RPCURL          string
	Commitment      rpc.CommitmentType // defaults to confirmed
	ConfirmInterval time.Duration      // defaults to 1s
	ConfirmTimeout  time.Duration      // defaults to 30s
	Logger          *zap.Logger
}

// SolanaProcessor settles x402 payments as SPL token transfers and verifies
// submitted authorizations against finalized ledger state.
type SolanaProcessor struct {
	client          clients.SolanaClientInterface
	commitment      rpc.CommitmentType
	confirmInterval time.Duration
	confirmTimeout  time.Duration
	log             *zap.Logger
}

// NewSolanaProcessor creates a new Solana settlement processor.
func NewSolanaProcessor(c SolanaProcessorConfig) *SolanaProcessor {
	if c.Commitment == "" {
		c.Commitment = rpc.CommitmentConfirmed
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &SolanaProcessor{
		client:          clients.NewSolanaClient(c.RPCURL),
		commitment:      c.Commitment,
		confirmInterval: c.ConfirmInterval,
		confirmTimeout:  c.ConfirmTimeout,
		log:             c.Logger,
	}
}

// Close releases processor resources. The Solana RPC client holds no
// connection state that needs explicit cleanup.
func (sp *SolanaProcessor) Close() error {
	return nil
}

// CreatePayment builds, signs, broadcasts and confirms an SPL transfer for
// the payment request, returning the resulting authorization.
//
// An empty amount pays the full max_amount_required. The recipient's
// associated token account is created inside the same transaction when it
// does not exist yet, so either the whole transfer lands or none of it does.
func (sp *SolanaProcessor) CreatePayment(
	ctx context.Context,
	request *types.PaymentRequest,
	payer solana.PrivateKey,
	amount string,
) (*types.PaymentAuthorization, error) {

	// Never broadcast against an expired quote.
	if request.IsExpired() {
		return nil, types.NewPaymentExpiredError(request)
	}

	// Resolve the amount to pay.
	payAmount := amount
	if payAmount == "" {
		payAmount = request.MaxAmountRequired
	}

	decimals := request.AssetType.Decimals()
	amountBase, err := ToBaseUnits(payAmount, decimals)
	if err != nil {
		return nil, err
	}

	// Check the payer's balance before building anything. Insufficient funds
	// is terminal and must not reach the network.
	payerPubkey := payer.PublicKey()
	balance, err := sp.GetTokenBalance(ctx, payerPubkey.String(), request.AssetAddress)
	if err != nil {
		return nil, err
	}
	balanceBase := balance.Shift(decimals).Floor().BigInt()
	if !balanceBase.IsUint64() || balanceBase.Uint64() < amountBase {
		return nil, types.NewInsufficientFundsError(payAmount, balance.String())
	}

	tx, err := sp.buildTransferTransaction(ctx, request, payerPubkey, amountBase, decimals)
	if err != nil {
		return nil, err
	}

	sig, err := sp.signAndSend(ctx, tx, payer)
	if err != nil {
		return nil, err
	}

	sp.log.Info("payment broadcast",
		zap.String("payment_id", request.PaymentID),
		zap.String("signature", sig.String()),
	)

	// Poll until the ledger confirms the signature. A timeout here must not
	// lead to blind re-broadcast: the caller looks up the signature first.
	if err := sp.waitForConfirmation(ctx, sig); err != nil {
		return nil, err
	}

	return &types.PaymentAuthorization{
		PaymentID:       request.PaymentID,
		ActualAmount:    payAmount,
		PaymentAddress:  request.PaymentAddress,
		AssetAddress:    request.AssetAddress,
		Network:         request.Network,
		Timestamp:       time.Now().UTC(),
		Signature:       sig.String(),
		PublicKey:       payerPubkey.String(),
		TransactionHash: sig.String(),
	}, nil
}

// buildTransferTransaction assembles the transfer instruction list, creating
// the recipient's associated token account in the same transaction when
// missing.
func (sp *SolanaProcessor) buildTransferTransaction(
	ctx context.Context,
	request *types.PaymentRequest,
	payerPubkey solana.PublicKey,
	amountBase uint64,
	decimals int32,
) (*solana.Transaction, error) {

	recipientPubkey, err := solana.PublicKeyFromBase58(request.PaymentAddress)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("invalid payment address: " + err.Error())
	}

	tokenMint, err := solana.PublicKeyFromBase58(request.AssetAddress)
	if err != nil {
		return nil, types.NewInvalidPaymentRequestError("invalid token mint address: " + err.Error())
	}

	payerTokenAccount, _, err := solana.FindAssociatedTokenAddress(payerPubkey, tokenMint)
	if err != nil {
		return nil, types.NewTransactionBroadcastError("failed to derive payer token account", err)
	}

	recipientTokenAccount, _, err := solana.FindAssociatedTokenAddress(recipientPubkey, tokenMint)
	if err != nil {
		return nil, types.NewTransactionBroadcastError("failed to derive recipient token account", err)
	}

	recentBlockhash, err := sp.client.GetLatestBlockhash(ctx, sp.commitment)
	if err != nil {
		return nil, types.NewNetworkError("failed to get latest blockhash", err)
	}

	var instructions []solana.Instruction

	// Missing recipient account is created atomically with the transfer.
	recipientAccountInfo, err := sp.client.GetAccountInfo(ctx, recipientTokenAccount)
	if err != nil || recipientAccountInfo == nil || recipientAccountInfo.Value == nil {
		createAccountIx := associatedtokenaccount.NewCreateInstruction(
			payerPubkey,
			recipientPubkey,
			tokenMint,
		).Build()
		instructions = append(instructions, createAccountIx)
	}

	transferIx := token.NewTransferCheckedInstruction(
		amountBase,
		uint8(decimals),
		payerTokenAccount,
		tokenMint,
		recipientTokenAccount,
		payerPubkey,
		[]solana.PublicKey{},
	).Build()
	instructions = append(instructions, transferIx)

	tx, err := solana.NewTransaction(
		instructions,
		recentBlockhash.Value.Blockhash,
		solana.TransactionPayer(payerPubkey),
	)
	if err != nil {
		return nil, types.NewTransactionBroadcastError("failed to create transaction", err)
	}

	return tx, nil
}

// signAndSend signs the transaction with the payer's key and submits it.
func (sp *SolanaProcessor) signAndSend(
	ctx context.Context,
	tx *solana.Transaction,
	payer solana.PrivateKey,
) (solana.Signature, error) {

	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, types.NewTransactionBroadcastError("failed to sign transaction", err)
	}

	sig, err := sp.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: sp.commitment,
	})
	if err != nil {
		return solana.Signature{}, types.NewTransactionBroadcastError("failed to send transaction", err)
	}

	return sig, nil
}

var errNotConfirmed = errors.New("transaction not confirmed yet")

// waitForConfirmation polls signature status at a fixed interval until the
// ledger reaches at least the configured commitment or the bounded timeout
// elapses.
func (sp *SolanaProcessor) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, sp.confirmTimeout)
	defer cancel()

	attempts := uint(sp.confirmTimeout / sp.confirmInterval)
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(func() error {
		statuses, err := sp.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
			return errNotConfirmed
		}
		status := statuses.Value[0]
		if status.Err != nil {
			return retry.Unrecoverable(fmt.Errorf("transaction failed on-chain: %v", status.Err))
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
		return errNotConfirmed
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(sp.confirmInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return types.NewTransactionBroadcastError(
			"confirmation not reached for "+sig.String()+"; look up the signature before retrying", err)
	}
	return nil
}

// VerifyPayment independently re-verifies a submitted authorization against
// ledger state. It fetches the referenced transaction, fails closed when it
// is missing or errored on-chain, and sums the token balance deltas across
// every account owned by the expected recipient for the expected mint. The
// payment passes when the received amount is at least 99% of the expected
// amount.
func (sp *SolanaProcessor) VerifyPayment(
	ctx context.Context,
	authorization *types.PaymentAuthorization,
	expectedAmount string,
	expectedRecipient string,
	expectedMint string,
) (bool, error) {

	sig, err := solana.SignatureFromBase58(authorization.Signature)
	if err != nil {
		return false, nil
	}

	recipientPubkey, err := solana.PublicKeyFromBase58(expectedRecipient)
	if err != nil {
		return false, types.NewConfigurationError("invalid recipient address: " + err.Error())
	}

	mintPubkey, err := solana.PublicKeyFromBase58(expectedMint)
	if err != nil {
		return false, types.NewConfigurationError("invalid token mint: " + err.Error())
	}

	tx, err := sp.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return false, types.NewNetworkError("failed to fetch transaction", err)
	}
	if tx == nil || tx.Meta == nil {
		return false, nil
	}
	if tx.Meta.Err != nil {
		return false, nil
	}

	expectedBase, err := ToBaseUnits(expectedAmount, types.AssetTypeSPL.Decimals())
	if err != nil {
		return false, err
	}

	// A transfer may land in more than one account owned by the same
	// recipient; sum the deltas over all of them.
	received := sumRecipientDelta(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances, recipientPubkey, mintPubkey)

	ok := MeetsTolerance(received, expectedBase)
	if !ok {
		sp.log.Warn("payment verification below tolerance",
			zap.String("signature", authorization.Signature),
			zap.Uint64("received_base_units", received),
			zap.Uint64("expected_base_units", expectedBase),
		)
	}
	return ok, nil
}

// sumRecipientDelta returns the total base units received by the recipient
// for the mint across all token accounts touched by the transaction.
func sumRecipientDelta(pre, post []rpc.TokenBalance, recipient, mint solana.PublicKey) uint64 {
	preByIndex := make(map[uint16]uint64, len(pre))
	for _, b := range pre {
		if b.Owner == nil || !b.Owner.Equals(recipient) || !b.Mint.Equals(mint) {
			continue
		}
		preByIndex[b.AccountIndex] = tokenAmountBase(b)
	}

	var received uint64
	for _, b := range post {
		if b.Owner == nil || !b.Owner.Equals(recipient) || !b.Mint.Equals(mint) {
			continue
		}
		postAmount := tokenAmountBase(b)
		preAmount := preByIndex[b.AccountIndex]
		if postAmount > preAmount {
			received += postAmount - preAmount
		}
	}
	return received
}

// tokenAmountBase parses the raw base-unit amount out of a token balance
// entry.
func tokenAmountBase(b rpc.TokenBalance) uint64 {
	if b.UiTokenAmount == nil {
		return 0
	}
	d, err := decimal.NewFromString(b.UiTokenAmount.Amount)
	if err != nil {
		return 0
	}
	base := d.BigInt()
	if !base.IsUint64() {
		return 0
	}
	return base.Uint64()
}

// GetTokenBalance retrieves the SPL token balance for a wallet in human
// units. A missing token account reads as zero.
func (sp *SolanaProcessor) GetTokenBalance(ctx context.Context, walletAddress, tokenMint string) (decimal.Decimal, error) {
	walletPubkey, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		return decimal.Decimal{}, types.NewInvalidPaymentRequestError("invalid wallet address: " + err.Error())
	}

	mintPubkey, err := solana.PublicKeyFromBase58(tokenMint)
	if err != nil {
		return decimal.Decimal{}, types.NewInvalidPaymentRequestError("invalid token mint: " + err.Error())
	}

	tokenAccount, _, err := solana.FindAssociatedTokenAddress(walletPubkey, mintPubkey)
	if err != nil {
		return decimal.Decimal{}, types.NewInvalidPaymentRequestError("failed to derive token account: " + err.Error())
	}

	accountInfo, err := sp.client.GetTokenAccountBalance(ctx, tokenAccount, sp.commitment)
	if err != nil || accountInfo == nil || accountInfo.Value == nil {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(accountInfo.Value.Amount)
	if err != nil {
		return decimal.Decimal{}, types.NewNetworkError("failed to parse balance", err)
	}
	return d.Shift(-int32(accountInfo.Value.Decimals)), nil
}
