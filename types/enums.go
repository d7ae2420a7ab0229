package types

// Network is the ledger network enum.
type Network string

const (
	NetworkSolanaDevnet  Network = "solana-devnet"
	NetworkSolanaTestnet Network = "solana-testnet"
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSepolia       Network = "sepolia"
	NetworkBaseSepolia   Network = "base-sepolia"
)

// IsSolana reports whether the network settles through a Solana RPC endpoint.
func (n Network) IsSolana() bool {
	switch n {
	case NetworkSolanaDevnet, NetworkSolanaTestnet, NetworkSolanaMainnet:
		return true
	}
	return false
}

// DefaultRPCURL returns the public RPC endpoint for the network.
func (n Network) DefaultRPCURL() string {
	switch n {
	case NetworkSolanaMainnet:
		return "https://api.mainnet-beta.solana.com"
	case NetworkSolanaTestnet:
		return "https://api.testnet.solana.com"
	case NetworkSolanaDevnet:
		return "https://api.devnet.solana.com"
	case NetworkSepolia:
		return "https://rpc.sepolia.org"
	case NetworkBaseSepolia:
		return "https://sepolia.base.org"
	}
	return ""
}

// AssetType is the asset standard enum.
type AssetType string

const (
	AssetTypeSPL   AssetType = "SPL"
	AssetTypeERC20 AssetType = "ERC20"
)

// Decimals returns the base-unit decimals convention fixed for the asset
// type. SPL amounts follow the USDC convention of 6 decimals; ERC-20 stable
// tokens used with the exact scheme share it.
func (a AssetType) Decimals() int32 {
	switch a {
	case AssetTypeSPL:
		return 6
	case AssetTypeERC20:
		return 6
	}
	return 6
}

// RejectionCode is the machine-readable code carried by terminal gate
// rejections (400/403 responses).
type RejectionCode string

const (
	RejectionCodeInvalidAuthorization RejectionCode = "INVALID_AUTHORIZATION"
	RejectionCodeInsufficientPayment  RejectionCode = "INSUFFICIENT_PAYMENT"
	RejectionCodeAddressMismatch      RejectionCode = "ADDRESS_MISMATCH"
	RejectionCodeMintMismatch         RejectionCode = "MINT_MISMATCH"
	RejectionCodeVerificationFailed   RejectionCode = "VERIFICATION_FAILED"
	RejectionCodeReplayDetected       RejectionCode = "REPLAY_DETECTED"
)
