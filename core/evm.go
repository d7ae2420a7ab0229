package core

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/openx402/x402-go/clients"
	"github.com/openx402/x402-go/types"
)

// erc20ABI carries the two fragments the exact scheme needs: balanceOf for
// funds checks and EIP-3009 transferWithAuthorization for settlement.
const erc20ABI = `[{
	"type": "function",
	"name": "balanceOf",
	"inputs": [
		{"name": "account", "type": "address"}
	],
	"outputs": [
		{"name": "", "type": "uint256"}
	],
	"constant": true
}, {
	"type": "function",
	"name": "transferWithAuthorization",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"outputs": [],
	"constant": false
}]`

// EVMProcessorConfig is the configuration for the EVM settlement backend.
type EVMProcessorConfig struct {
	ChainID    int64
	RPCURL     string
	PrivateKey string // hex-encoded settlement key; required for SettleTransfer only
	AssetName  string // ERC-20 EIP-712 domain name (e.g. "USDC")
	AssetVer   string // ERC-20 EIP-712 domain version (e.g. "2")
	Timeout    time.Duration
	Logger     *zap.Logger
}

// EVMProcessor settles x402 payments on EVM networks with the exact scheme:
// the payer signs an EIP-3009 transfer authorization off-chain and the
// processor verifies it and submits it on the payer's behalf.
type EVMProcessor struct {
	client      clients.EthClientInterface
	chainID     int64
	privateKey  string
	assetName   string
	assetVer    string
	timeout     time.Duration
	contractABI abi.ABI
	log         *zap.Logger
}

// TransferAuthorization is the payer-signed EIP-3009 payload of the exact
// scheme. Value is in token base units; the nonce is 32 random bytes hex.
type TransferAuthorization struct {
	From        string
	To          string
	Value       string
	ValidAfter  int64
	ValidBefore int64
	Nonce       string
	Signature   string
}

// NewEVMProcessor creates a new EVM settlement processor.
func NewEVMProcessor(c EVMProcessorConfig) (*EVMProcessor, error) {
	if c.RPCURL == "" {
		return nil, types.NewConfigurationError("EVM RPC URL is not set")
	}
	if c.AssetName == "" || c.AssetVer == "" {
		return nil, types.NewConfigurationError("asset EIP-712 domain name and version are required")
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	client, err := clients.NewEthClient(c.RPCURL)
	if err != nil {
		return nil, types.NewNetworkError("failed to dial EVM RPC client", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, types.NewConfigurationError("failed to parse ERC-20 ABI: " + err.Error())
	}

	return &EVMProcessor{
		client:      client,
		chainID:     c.ChainID,
		privateKey:  c.PrivateKey,
		assetName:   c.AssetName,
		assetVer:    c.AssetVer,
		timeout:     c.Timeout,
		contractABI: parsedABI,
		log:         c.Logger,
	}, nil
}

// Close releases processor resources.
func (p *EVMProcessor) Close() error {
	return nil
}

// VerifyTransfer checks a transfer authorization against the payment request
// without touching the chain state: time window, value, recipient, payer
// balance and EIP-712 signature. A false result carries the rejection code of
// the first failed check; an error means the check itself could not run.
func (p *EVMProcessor) VerifyTransfer(
	ctx context.Context,
	auth TransferAuthorization,
	request *types.PaymentRequest,
) (bool, types.RejectionCode, error) {

	now := time.Now()

	// The authorization time window must be open.
	if auth.ValidAfter >= auth.ValidBefore {
		return false, types.RejectionCodeInvalidAuthorization, nil
	}
	if !now.After(time.Unix(auth.ValidAfter, 0)) {
		return false, types.RejectionCodeInvalidAuthorization, nil
	}
	if !now.Before(time.Unix(auth.ValidBefore, 0)) {
		return false, types.RejectionCodeInvalidAuthorization, nil
	}

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || authValue.Sign() < 0 {
		return false, types.RejectionCodeInvalidAuthorization, nil
	}

	requiredBase, err := ToBaseUnits(request.MaxAmountRequired, request.AssetType.Decimals())
	if err != nil {
		return false, types.RejectionCodeInvalidAuthorization, err
	}
	if authValue.Cmp(new(big.Int).SetUint64(requiredBase)) < 0 {
		return false, types.RejectionCodeInsufficientPayment, nil
	}

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return false, types.RejectionCodeInvalidAuthorization, nil
	}
	if !common.IsHexAddress(request.PaymentAddress) || !common.IsHexAddress(request.AssetAddress) {
		return false, types.RejectionCodeInvalidAuthorization,
			types.NewConfigurationError("payment and asset addresses must be hex addresses")
	}
	if common.HexToAddress(auth.To) != common.HexToAddress(request.PaymentAddress) {
		return false, types.RejectionCodeAddressMismatch, nil
	}

	fromAddress := common.HexToAddress(auth.From)
	assetAddress := common.HexToAddress(request.AssetAddress)

	// Check the payer has the funds the authorization promises.
	balanceOfData, err := p.contractABI.Pack("balanceOf", fromAddress)
	if err != nil {
		return false, types.RejectionCodeVerificationFailed,
			types.NewNetworkError("failed to pack balanceOf call data", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	balanceResult, err := p.client.CallContract(ctx, ethereum.CallMsg{
		To:   &assetAddress,
		Data: balanceOfData,
	}, nil)
	if err != nil {
		return false, types.RejectionCodeVerificationFailed,
			types.NewNetworkError("failed to get token balance", err)
	}
	if len(balanceResult) != 32 {
		return false, types.RejectionCodeVerificationFailed,
			types.NewNetworkError("token balance result is not 32 bytes", nil)
	}
	if new(big.Int).SetBytes(balanceResult).Cmp(authValue) < 0 {
		return false, types.RejectionCodeInsufficientPayment, nil
	}

	// Recover the signer and require it to match the declared payer.
	sender, ok := p.recoverSigner(auth, authValue, request.AssetAddress)
	if !ok || sender != fromAddress {
		return false, types.RejectionCodeVerificationFailed, nil
	}

	return true, "", nil
}

// recoverSigner rebuilds the EIP-712 digest for the authorization and
// recovers the signing address.
func (p *EVMProcessor) recoverSigner(auth TransferAuthorization, authValue *big.Int, asset string) (common.Address, bool) {
	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return common.Address{}, false
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	bigChainID := big.NewInt(p.chainID)
	hexChainID := math.HexOrDecimal256(*bigChainID)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              p.assetName,
			Version:           p.assetVer,
			ChainId:           &hexChainID,
			VerifyingContract: asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       authValue,
			"validAfter":  big.NewInt(auth.ValidAfter),
			"validBefore": big.NewInt(auth.ValidBefore),
			"nonce":       nonce,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Address{}, false
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Address{}, false
	}

	rawData := append(append([]byte("\x19\x01"), domainSeparator...), typedDataHash...)
	sighash := crypto.Keccak256(rawData)

	signature, err := common.ParseHexOrString(auth.Signature)
	if err != nil || len(signature) != 65 {
		return common.Address{}, false
	}
	if signature[64] == 27 || signature[64] == 28 {
		signature[64] -= 27
	}

	pubkey, err := crypto.Ecrecover(sighash, signature)
	if err != nil || len(pubkey) != 65 {
		return common.Address{}, false
	}
	recoveredPubkey, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return common.Address{}, false
	}

	return crypto.PubkeyToAddress(*recoveredPubkey), true
}

// SettleTransfer submits the payer-signed authorization on-chain with the
// processor's settlement key and waits for the receipt, returning the
// transaction hash.
func (p *EVMProcessor) SettleTransfer(
	ctx context.Context,
	auth TransferAuthorization,
	request *types.PaymentRequest,
) (string, error) {

	if p.privateKey == "" {
		return "", types.NewConfigurationError("settlement private key is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	authValue, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return "", types.NewInvalidPaymentAuthorizationError("invalid authorization value")
	}

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil {
		return "", types.NewInvalidPaymentAuthorizationError("invalid authorization nonce")
	}
	if len(nonceBytes) != 32 {
		return "", types.NewInvalidPaymentAuthorizationError("authorization nonce must be 32 bytes")
	}
	var authNonce [32]byte
	copy(authNonce[:], nonceBytes)

	authSignature, err := common.ParseHexOrString(auth.Signature)
	if err != nil {
		return "", types.NewInvalidPaymentAuthorizationError("invalid authorization signature")
	}
	if len(authSignature) != 65 {
		return "", types.NewInvalidPaymentAuthorizationError("authorization signature must be 65 bytes")
	}

	var sigR, sigS [32]byte
	copy(sigR[:], authSignature[0:32])
	copy(sigS[:], authSignature[32:64])
	sigV := authSignature[64]
	if sigV == 0 || sigV == 1 {
		sigV += 27
	}

	txData, err := p.contractABI.Pack(
		"transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		authValue,
		big.NewInt(auth.ValidAfter),
		big.NewInt(auth.ValidBefore),
		authNonce,
		sigV,
		sigR,
		sigS,
	)
	if err != nil {
		return "", types.NewInvalidPaymentAuthorizationError("failed to pack authorization message")
	}

	settlementKey, err := crypto.HexToECDSA(strings.TrimPrefix(p.privateKey, "0x"))
	if err != nil {
		return "", types.NewConfigurationError("failed to parse settlement private key")
	}
	settlementAddress := crypto.PubkeyToAddress(settlementKey.PublicKey)

	txNonce, err := p.client.PendingNonceAt(ctx, settlementAddress)
	if err != nil {
		return "", types.NewNetworkError("failed to get pending nonce", err)
	}

	gasTipCap, err := p.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", types.NewNetworkError("failed to suggest gas tip cap", err)
	}

	blockHeader, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", types.NewNetworkError("failed to get block header", err)
	}
	if blockHeader.BaseFee == nil {
		return "", types.NewNetworkError("block header missing base fee: network may not support EIP-1559", nil)
	}

	// Gas fee cap: 2x base fee plus the tip.
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(blockHeader.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	contractAddress := common.HexToAddress(request.AssetAddress)
	gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{
		From: settlementAddress,
		To:   &contractAddress,
		Data: txData,
	})
	if err != nil {
		return "", types.NewNetworkError("failed to estimate gas", err)
	}
	gasLimit = gasLimit * 120 / 100

	chainID := big.NewInt(p.chainID)
	transaction := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &contractAddress,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	signer := ethtypes.NewLondonSigner(chainID)
	signedTx, err := ethtypes.SignTx(transaction, signer, settlementKey)
	if err != nil {
		return "", types.NewTransactionBroadcastError("failed to sign transaction", err)
	}

	if err := p.client.SendTransaction(ctx, signedTx); err != nil {
		return "", types.NewTransactionBroadcastError("failed to send transaction", err)
	}

	txHash := signedTx.Hash()
	p.log.Info("settlement broadcast",
		zap.String("payment_id", request.PaymentID),
		zap.String("transaction", txHash.Hex()),
	)

	if err := p.waitForReceipt(ctx, txHash); err != nil {
		return "", err
	}

	return txHash.Hex(), nil
}

// waitForReceipt polls for the transaction receipt until it lands or the
// context deadline elapses.
func (p *EVMProcessor) waitForReceipt(ctx context.Context, txHash common.Hash) error {
	err := retry.Do(func() error {
		receipt, err := p.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		if receipt.Status != ethtypes.ReceiptStatusSuccessful {
			return retry.Unrecoverable(types.NewTransactionBroadcastError("transaction reverted on-chain", nil))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return types.NewTransactionBroadcastError(
			"receipt not found for "+txHash.Hex()+"; look up the transaction before retrying", err)
	}
	return nil
}
