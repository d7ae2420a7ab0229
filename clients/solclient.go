// Package clients holds the ledger RPC client interfaces consumed by the
// settlement processors, each with a constructor variable that tests override
// to inject mocks.
package clients

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaClientInterface defines the Solana RPC surface the settlement
// processor needs: balance query, blockhash fetch, submission, status polling
// and full transaction fetch.
type SolanaClientInterface interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// NewSolanaClient creates a new Solana RPC client. This function can be
// overridden in tests.
var NewSolanaClient = func(rpcURL string) SolanaClientInterface {
	return rpc.New(rpcURL)
}
