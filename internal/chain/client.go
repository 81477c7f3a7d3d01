package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/config"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// campaignABIJSON 募捐活动合约ABI
const campaignABIJSON = `[
	{
		"type": "function",
		"name": "createCampaign",
		"inputs": [
			{"name": "beneficiary", "type": "address"},
			{"name": "goalAmount", "type": "uint256"},
			{"name": "duration", "type": "uint256"},
			{"name": "title", "type": "string"},
			{"name": "description", "type": "string"}
		],
		"outputs": [{"name": "campaignId", "type": "uint256"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "donate",
		"inputs": [
			{"name": "campaignId", "type": "uint256"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "finalizeCampaign",
		"inputs": [{"name": "campaignId", "type": "uint256"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getCampaign",
		"inputs": [{"name": "campaignId", "type": "uint256"}],
		"outputs": [
			{"name": "id", "type": "uint256"},
			{"name": "beneficiary", "type": "address"},
			{"name": "goalAmount", "type": "uint256"},
			{"name": "totalRaised", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "finalized", "type": "bool"},
			{"name": "exists", "type": "bool"},
			{"name": "title", "type": "string"},
			{"name": "description", "type": "string"}
		],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "CampaignCreated",
		"inputs": [
			{"name": "campaignId", "type": "uint256", "indexed": true},
			{"name": "beneficiary", "type": "address", "indexed": true},
			{"name": "goalAmount", "type": "uint256", "indexed": false},
			{"name": "deadline", "type": "uint256", "indexed": false},
			{"name": "title", "type": "string", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "DonationMade",
		"inputs": [
			{"name": "campaignId", "type": "uint256", "indexed": true},
			{"name": "donor", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "CampaignFinalized",
		"inputs": [
			{"name": "campaignId", "type": "uint256", "indexed": true},
			{"name": "totalRaised", "type": "uint256", "indexed": false},
			{"name": "platformFeeAmount", "type": "uint256", "indexed": false},
			{"name": "beneficiaryAmount", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	},
	{
		"type": "event",
		"name": "CampaignCancelled",
		"inputs": [
			{"name": "campaignId", "type": "uint256", "indexed": true},
			{"name": "totalRefunded", "type": "uint256", "indexed": false}
		],
		"anonymous": false
	}
]`

// erc20ABIJSON ERC-20代币合约ABI（仅包含使用到的方法）
const erc20ABIJSON = `[
	{
		"type": "function",
		"name": "approve",
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	}
]`

// CampaignState 合约内活动状态快照
type CampaignState struct {
	Id          uint64
	Beneficiary common.Address
	GoalAmount  *big.Int
	TotalRaised *big.Int
	Deadline    *big.Int
	Finalized   bool
	Exists      bool
	Title       string
	Description string
}

// TotalRaisedUSDC 链上总募集金额（USDC，精确小数）
func (s *CampaignState) TotalRaisedUSDC() decimal.Decimal {
	return FromTokenUnits(s.TotalRaised)
}

// Client 链上客户端
//
// 封装RPC连接、交易签名与合约调用，所有写操作以服务账户签名提交。
type Client struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	chainId    *big.Int
	from       common.Address

	campaignContract common.Address
	usdcContract     common.Address
	campaignABI      abi.ABI
	erc20ABI         abi.ABI

	defaultGasPrice *big.Int
	defaultGasLimit uint64
	confirmTimeout  time.Duration
	waiter          *TransactionWaiter
}

// NewClient 创建链上客户端
func NewClient(cfg config.ChainConfig) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("chain rpc_url is required")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("chain private_key is required")
	}
	if !common.IsHexAddress(cfg.CampaignContract) {
		return nil, fmt.Errorf("invalid campaign contract address: %s", cfg.CampaignContract)
	}
	if !common.IsHexAddress(cfg.UsdcContract) {
		return nil, fmt.Errorf("invalid usdc contract address: %s", cfg.UsdcContract)
	}

	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc node: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	campaignABI, err := abi.JSON(strings.NewReader(campaignABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse campaign ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}

	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	confirmTimeout := time.Duration(cfg.ConfirmTimeout) * time.Second

	c := &Client{
		client:           client,
		privateKey:       privateKey,
		chainId:          big.NewInt(cfg.ChainId),
		from:             from,
		campaignContract: common.HexToAddress(cfg.CampaignContract),
		usdcContract:     common.HexToAddress(cfg.UsdcContract),
		campaignABI:      campaignABI,
		erc20ABI:         erc20ABI,
		defaultGasPrice:  new(big.Int).Mul(big.NewInt(cfg.GasPriceGwei), big.NewInt(1e9)),
		defaultGasLimit:  cfg.GasLimit,
		confirmTimeout:   confirmTimeout,
	}
	c.waiter = NewTransactionWaiter(client, pollInterval)

	logger.Info("Chain client initialized (chain_id: %d, account: %s, campaign_contract: %s)",
		cfg.ChainId, from.Hex(), cfg.CampaignContract)

	return c, nil
}

// From 服务账户地址
func (c *Client) From() common.Address {
	return c.from
}

// ConfirmTimeout 交易确认超时
func (c *Client) ConfirmTimeout() time.Duration {
	return c.confirmTimeout
}

// Close 关闭RPC连接
func (c *Client) Close() {
	c.client.Close()
}

// EstimateGasPrice 查询建议gas价格，失败时回退到配置默认值
func (c *Client) EstimateGasPrice(ctx context.Context) *big.Int {
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		logger.Warn("Failed to suggest gas price, falling back to default %s wei: %v",
			c.defaultGasPrice.String(), err)
		return new(big.Int).Set(c.defaultGasPrice)
	}
	return gasPrice
}

// estimateGasLimit 估算gas上限并加20%余量，失败时回退到配置默认值
func (c *Client) estimateGasLimit(ctx context.Context, to common.Address, data []byte) uint64 {
	estimated, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		logger.Warn("Failed to estimate gas, falling back to default %d: %v", c.defaultGasLimit, err)
		return c.defaultGasLimit
	}
	return estimated + estimated/5
}

// submit 签名并提交交易，立即返回交易哈希不等待确认
func (c *Client) submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, NewNetworkError("failed to get pending nonce", err)
	}

	gasPrice := c.EstimateGasPrice(ctx)
	gasLimit := c.estimateGasLimit(ctx, to, data)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainId), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash()
	logger.Info("Transaction submitted (tx: %s, to: %s, nonce: %d, gas_limit: %d)",
		txHash.Hex(), to.Hex(), nonce, gasLimit)

	return txHash, nil
}

// call 只读合约调用
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	return result, nil
}

// CreateCampaign 提交创建活动交易
func (c *Client) CreateCampaign(ctx context.Context, beneficiary string, goalAmount decimal.Decimal, durationSeconds int64, title, description string) (common.Hash, error) {
	goalUnits, err := ToTokenUnits(goalAmount)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := c.campaignABI.Pack("createCampaign",
		common.HexToAddress(beneficiary), goalUnits, big.NewInt(durationSeconds), title, description)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack createCampaign: %w", err)
	}

	return c.submit(ctx, c.campaignContract, data)
}

// Donate 提交捐赠交易
func (c *Client) Donate(ctx context.Context, chainCampaignId uint64, amount decimal.Decimal) (common.Hash, error) {
	amountUnits, err := ToTokenUnits(amount)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := c.campaignABI.Pack("donate", new(big.Int).SetUint64(chainCampaignId), amountUnits)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack donate: %w", err)
	}

	return c.submit(ctx, c.campaignContract, data)
}

// FinalizeCampaign 提交完结活动交易
func (c *Client) FinalizeCampaign(ctx context.Context, chainCampaignId uint64) (common.Hash, error) {
	data, err := c.campaignABI.Pack("finalizeCampaign", new(big.Int).SetUint64(chainCampaignId))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack finalizeCampaign: %w", err)
	}

	return c.submit(ctx, c.campaignContract, data)
}

// ApproveUSDC 提交USDC授权交易，授权活动合约划转指定金额
//
// 授权前尽力检查服务账户余额，余额查询失败不阻断提交。
func (c *Client) ApproveUSDC(ctx context.Context, amount decimal.Decimal) (common.Hash, error) {
	amountUnits, err := ToTokenUnits(amount)
	if err != nil {
		return common.Hash{}, err
	}

	balance, err := c.USDCBalanceOf(ctx, c.from.Hex())
	if err != nil {
		logger.Warn("Failed to check USDC balance before approve: %v", err)
	} else if balance.LessThan(amount) {
		return common.Hash{}, &ChainError{
			Kind:    ErrorKindGas,
			Message: fmt.Sprintf("insufficient USDC balance: have %s, need %s", balance, amount),
		}
	}

	data, err := c.erc20ABI.Pack("approve", c.campaignContract, amountUnits)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack approve: %w", err)
	}

	return c.submit(ctx, c.usdcContract, data)
}

// USDCBalanceOf 查询USDC余额
func (c *Client) USDCBalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	data, err := c.erc20ABI.Pack("balanceOf", common.HexToAddress(account))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	result, err := c.call(ctx, c.usdcContract, data)
	if err != nil {
		return decimal.Zero, err
	}

	values, err := c.erc20ABI.Unpack("balanceOf", result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected balanceOf result type")
	}

	return FromTokenUnits(balance), nil
}

// GetCampaign 查询合约内活动状态
func (c *Client) GetCampaign(ctx context.Context, chainCampaignId uint64) (*CampaignState, error) {
	data, err := c.campaignABI.Pack("getCampaign", new(big.Int).SetUint64(chainCampaignId))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getCampaign: %w", err)
	}

	result, err := c.call(ctx, c.campaignContract, data)
	if err != nil {
		return nil, err
	}

	values, err := c.campaignABI.Unpack("getCampaign", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getCampaign: %w", err)
	}
	if len(values) < 9 {
		return nil, fmt.Errorf("unexpected getCampaign result length: %d", len(values))
	}

	id, _ := values[0].(*big.Int)
	beneficiary, _ := values[1].(common.Address)
	goalAmount, _ := values[2].(*big.Int)
	totalRaised, _ := values[3].(*big.Int)
	deadline, _ := values[4].(*big.Int)
	finalized, _ := values[5].(bool)
	exists, _ := values[6].(bool)
	title, _ := values[7].(string)
	description, _ := values[8].(string)
	if id == nil || goalAmount == nil || totalRaised == nil || deadline == nil {
		return nil, fmt.Errorf("unexpected getCampaign result types")
	}

	return &CampaignState{
		Id:          id.Uint64(),
		Beneficiary: beneficiary,
		GoalAmount:  goalAmount,
		TotalRaised: totalRaised,
		Deadline:    deadline,
		Finalized:   finalized,
		Exists:      exists,
		Title:       title,
		Description: description,
	}, nil
}

// WaitForReceipt 等待交易确认
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	return c.waiter.Wait(ctx, common.HexToHash(txHash), c.confirmTimeout)
}

// CheckReceipt 单次查询交易收据
//
// 交易尚未出块返回(nil, nil)，用于重试前探测旧交易的最终状态。
func (c *Client) CheckReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, NewNetworkError("failed to query transaction receipt", err)
	}
	return receipt, nil
}

// QueryCampaignLogs 查询指定活动合约地址的全部事件日志
func (c *Client) QueryCampaignLogs(ctx context.Context, contractAddress string) ([]types.Log, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, NewValidationError("合约地址格式不正确")
	}

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(contractAddress)},
		Topics: [][]common.Hash{{
			SigCampaignCreated,
			SigDonationMade,
			SigCampaignFinalized,
			SigCampaignCancelled,
		}},
	})
	if err != nil {
		return nil, NewNetworkError("failed to query event logs", err)
	}

	return logs, nil
}
