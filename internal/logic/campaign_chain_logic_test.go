package logic

import (
	"context"
	"sync"
	"testing"
	"time"

	"math/big"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/KOPOData2025/HanaChain-sub001/internal/model"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testBeneficiary = "0x2222222222222222222222222222222222222222"
	testContract    = "0x1111111111111111111111111111111111111111"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.CampaignModel{}, &model.DonationModel{}))
	return db
}

func newTestPool(t *testing.T) *ants.Pool {
	t.Helper()

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func newTestDecoder(t *testing.T) *chain.EventDecoder {
	t.Helper()

	decoder, err := chain.NewEventDecoder(nil)
	require.NoError(t, err)
	return decoder
}

func seedCampaign(t *testing.T, db *gorm.DB, mutate func(*model.CampaignModel)) *model.CampaignModel {
	t.Helper()

	now := time.Now()
	campaign := &model.CampaignModel{
		Title:              "Hope Campaign",
		Description:        "medical support",
		TargetAmount:       decimal.RequireFromString("500"),
		CurrentAmount:      decimal.Zero,
		StartTime:          now,
		EndTime:            now.Add(24 * time.Hour),
		Status:             model.CampaignStatusActive,
		BeneficiaryAddress: testBeneficiary,
		ChainStatus:        model.ChainStatusNone,
	}
	if mutate != nil {
		mutate(campaign)
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

// fakeChainClient 可编程的链上客户端替身
type fakeChainClient struct {
	mu sync.Mutex

	createHash  common.Hash
	createErr   error
	createCalls int

	finalizeHash  common.Hash
	finalizeErr   error
	finalizeCalls int

	approveHash common.Hash
	approveErr  error
	donateHash  common.Hash
	donateErr   error

	waitReceipts  map[string]*types.Receipt
	waitErr       error
	checkReceipts map[string]*types.Receipt
	checkErr      error

	campaignState *chain.CampaignState
	stateErr      error

	logs    []types.Log
	logsErr error
}

func (f *fakeChainClient) CreateCampaign(ctx context.Context, beneficiary string, goalAmount decimal.Decimal, durationSeconds int64, title, description string) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return f.createHash, f.createErr
}

func (f *fakeChainClient) Donate(ctx context.Context, chainCampaignId uint64, amount decimal.Decimal) (common.Hash, error) {
	return f.donateHash, f.donateErr
}

func (f *fakeChainClient) FinalizeCampaign(ctx context.Context, chainCampaignId uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	return f.finalizeHash, f.finalizeErr
}

func (f *fakeChainClient) ApproveUSDC(ctx context.Context, amount decimal.Decimal) (common.Hash, error) {
	return f.approveHash, f.approveErr
}

func (f *fakeChainClient) GetCampaign(ctx context.Context, chainCampaignId uint64) (*chain.CampaignState, error) {
	return f.campaignState, f.stateErr
}

func (f *fakeChainClient) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if receipt, ok := f.waitReceipts[txHash]; ok {
		return receipt, nil
	}
	return nil, chain.NewTimeoutError(txHash, "transaction confirmation timed out")
}

func (f *fakeChainClient) CheckReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.checkReceipts[txHash], nil
}

func (f *fakeChainClient) QueryCampaignLogs(ctx context.Context, contractAddress string) ([]types.Log, error) {
	return f.logs, f.logsErr
}

func (f *fakeChainClient) createCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeChainClient) finalizeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalizeCalls
}

func packEventData(t *testing.T, typeNames []string, values ...interface{}) []byte {
	t.Helper()

	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		abiType, err := abi.NewType(name, "", nil)
		require.NoError(t, err)
		args = append(args, abi.Argument{Type: abiType})
	}

	data, err := args.Pack(values...)
	require.NoError(t, err)
	return data
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

// campaignCreatedReceipt 构造包含CampaignCreated事件的成功收据
func campaignCreatedReceipt(t *testing.T, txHash string, chainCampaignId int64) *types.Receipt {
	t.Helper()

	hash := common.HexToHash(txHash)
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: hash,
		Logs: []*types.Log{{
			Address: common.HexToAddress(testContract),
			Topics: []common.Hash{
				chain.SigCampaignCreated,
				common.BigToHash(bigInt(chainCampaignId)),
				addressTopic(common.HexToAddress(testBeneficiary)),
			},
			Data: packEventData(t, []string{"uint256", "uint256", "string"},
				bigInt(500000000), bigInt(1756600000), "Hope Campaign"),
			TxHash: hash,
		}},
	}
}

func newCampaignLogic(t *testing.T, db *gorm.DB, client *fakeChainClient) *CampaignChainLogic {
	t.Helper()
	return NewCampaignChainLogic(db, client, newTestDecoder(t), newTestPool(t))
}

func TestCreateDeploysCampaign(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, nil)

	txHash := "0x00000000000000000000000000000000000000000000000000000000000000ab"
	client := &fakeChainClient{
		createHash: common.HexToHash(txHash),
		waitReceipts: map[string]*types.Receipt{
			common.HexToHash(txHash).Hex(): campaignCreatedReceipt(t, txHash, 7),
		},
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Create(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, model.ChainStatusActive, result.Status)

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusActive, stored.ChainStatus)
	assert.Equal(t, common.HexToAddress(testContract).Hex(), stored.ContractAddress)
	assert.Equal(t, uint64(7), stored.ChainCampaignId)
	assert.Equal(t, common.HexToHash(txHash).Hex(), stored.TransactionHash)
	assert.Empty(t, stored.ErrorMessage)
}

func TestCreateValidationLeavesStateUntouched(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.BeneficiaryAddress = "not-an-address"
	})

	client := &fakeChainClient{}
	logic := newCampaignLogic(t, db, client)

	_, err := logic.Create(context.Background(), campaign.Id)
	require.Error(t, err)
	assert.True(t, chain.IsValidation(err))
	assert.Equal(t, 0, client.createCallCount())

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusNone, stored.ChainStatus)
}

func TestCreateRejectsInFlight(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusProcessing
	})

	logic := newCampaignLogic(t, db, &fakeChainClient{})

	_, err := logic.Create(context.Background(), campaign.Id)
	require.Error(t, err)
	assert.True(t, chain.IsValidation(err))
}

func TestCreateFailedReceiptRetainsHash(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, nil)

	txHash := "0x00000000000000000000000000000000000000000000000000000000000000cd"
	client := &fakeChainClient{
		createHash: common.HexToHash(txHash),
		waitReceipts: map[string]*types.Receipt{
			common.HexToHash(txHash).Hex(): {
				Status: types.ReceiptStatusFailed,
				TxHash: common.HexToHash(txHash),
			},
		},
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Create(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.Error(t, result.Err)
	assert.Equal(t, model.ChainStatusFailed, result.Status)

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusFailed, stored.ChainStatus)
	assert.Equal(t, common.HexToHash(txHash).Hex(), stored.TransactionHash)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestCreateConfirmationTimeoutMarksFailed(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, nil)

	txHash := "0x00000000000000000000000000000000000000000000000000000000000000ef"
	client := &fakeChainClient{createHash: common.HexToHash(txHash)}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Create(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.Error(t, result.Err)
	assert.Equal(t, chain.ErrorKindTimeout, chain.Classify(result.Err))

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusFailed, stored.ChainStatus)
	assert.Equal(t, common.HexToHash(txHash).Hex(), stored.TransactionHash)
}

func TestRetryOnlyAllowedFromFailed(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusActive
	})

	logic := newCampaignLogic(t, db, &fakeChainClient{})

	_, err := logic.Retry(context.Background(), campaign.Id)
	require.Error(t, err)
	assert.True(t, chain.IsValidation(err))
}

func TestRetryProbesPreviousTransaction(t *testing.T) {
	db := newTestDB(t)
	oldHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000011").Hex()
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusFailed
		c.TransactionHash = oldHash
		c.ErrorMessage = "交易确认超时"
	})

	// 旧交易实际已成功，重试不应重新提交
	client := &fakeChainClient{
		checkReceipts: map[string]*types.Receipt{
			oldHash: campaignCreatedReceipt(t, oldHash, 7),
		},
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Retry(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, model.ChainStatusActive, result.Status)
	assert.Equal(t, 0, client.createCallCount())

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusActive, stored.ChainStatus)
	assert.Equal(t, uint64(7), stored.ChainCampaignId)
}

func TestRetryResubmitsWhenPreviousTransactionAbsent(t *testing.T) {
	db := newTestDB(t)
	oldHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000012").Hex()
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusFailed
		c.TransactionHash = oldHash
	})

	newHash := "0x0000000000000000000000000000000000000000000000000000000000000013"
	client := &fakeChainClient{
		createHash: common.HexToHash(newHash),
		waitReceipts: map[string]*types.Receipt{
			common.HexToHash(newHash).Hex(): campaignCreatedReceipt(t, newHash, 8),
		},
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Retry(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, 1, client.createCallCount())

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusActive, stored.ChainStatus)
	assert.Equal(t, common.HexToHash(newHash).Hex(), stored.TransactionHash)
	assert.Equal(t, uint64(8), stored.ChainCampaignId)
}

func TestFinalizeCompletesCampaign(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusActive
		c.ContractAddress = testContract
		c.ChainCampaignId = 7
	})

	txHash := "0x0000000000000000000000000000000000000000000000000000000000000021"
	hash := common.HexToHash(txHash)
	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: hash,
		Logs: []*types.Log{{
			Topics: []common.Hash{
				chain.SigCampaignFinalized,
				common.BigToHash(bigInt(7)),
			},
			Data: packEventData(t, []string{"uint256", "uint256", "uint256"},
				bigInt(8000000000), bigInt(400000000), bigInt(7600000000)),
			TxHash: hash,
		}},
	}
	client := &fakeChainClient{
		finalizeHash: hash,
		waitReceipts: map[string]*types.Receipt{hash.Hex(): receipt},
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Finalize(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.Err)

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, model.ChainStatusActive, stored.ChainStatus)
	assert.True(t, decimal.RequireFromString("8000").Equal(stored.CurrentAmount))
}

func TestFinalizeRequiresChainIdentity(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusActive
	})

	logic := newCampaignLogic(t, db, &fakeChainClient{})

	_, err := logic.Finalize(context.Background(), campaign.Id)
	require.Error(t, err)
	assert.True(t, chain.IsValidation(err))
}

func TestFinalizeFailureMarksFailedKeepingIdentity(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusActive
		c.ContractAddress = testContract
		c.ChainCampaignId = 7
	})

	client := &fakeChainClient{
		finalizeErr: chain.NewNetworkError("failed to send transaction", nil),
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Finalize(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.Error(t, result.Err)
	assert.Equal(t, model.ChainStatusFailed, result.Status)

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusFailed, stored.ChainStatus)
	assert.Equal(t, model.CampaignStatusActive, stored.Status)
	assert.Equal(t, testContract, stored.ContractAddress)
	assert.Equal(t, uint64(7), stored.ChainCampaignId)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func TestMonitorProcessingRecoversStuckCampaigns(t *testing.T) {
	db := newTestDB(t)

	txHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000031").Hex()
	confirmed := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusProcessing
		c.TransactionHash = txHash
	})
	orphaned := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusProcessing
	})

	client := &fakeChainClient{
		checkReceipts: map[string]*types.Receipt{
			txHash: campaignCreatedReceipt(t, txHash, 9),
		},
	}
	logic := newCampaignLogic(t, db, client)

	require.NoError(t, logic.MonitorProcessing(context.Background(), 0))

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, confirmed.Id).Error)
	assert.Equal(t, model.ChainStatusActive, stored.ChainStatus)
	assert.Equal(t, uint64(9), stored.ChainCampaignId)

	stored = model.CampaignModel{}
	require.NoError(t, db.First(&stored, orphaned.Id).Error)
	assert.Equal(t, model.ChainStatusFailed, stored.ChainStatus)
}

// campaignFinalizedReceipt 构造包含CampaignFinalized事件的成功收据
func campaignFinalizedReceipt(t *testing.T, txHash string, chainCampaignId, totalRaised int64) *types.Receipt {
	t.Helper()

	hash := common.HexToHash(txHash)
	return &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: hash,
		Logs: []*types.Log{{
			Topics: []common.Hash{
				chain.SigCampaignFinalized,
				common.BigToHash(bigInt(chainCampaignId)),
			},
			Data: packEventData(t, []string{"uint256", "uint256", "uint256"},
				bigInt(totalRaised), bigInt(0), bigInt(totalRaised)),
			TxHash: hash,
		}},
	}
}

func TestMonitorThenRetryResubmitsFinalizeNotCreate(t *testing.T) {
	db := newTestDB(t)

	// 完结交易提交后一直未出块，巡检置为失败
	staleHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000071").Hex()
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusProcessing
		c.ContractAddress = testContract
		c.ChainCampaignId = 7
		c.TransactionHash = staleHash
	})

	newHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000072").Hex()
	client := &fakeChainClient{
		finalizeHash: common.HexToHash(newHash),
		waitReceipts: map[string]*types.Receipt{
			newHash: campaignFinalizedReceipt(t, newHash, 7, 8000000000),
		},
	}
	logic := newCampaignLogic(t, db, client)

	require.NoError(t, logic.MonitorProcessing(context.Background(), 0))

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusFailed, stored.ChainStatus)

	// 已部署活动的重试重新提交完结交易，绝不重新部署
	results, err := logic.Retry(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, 0, client.createCallCount())
	assert.Equal(t, 1, client.finalizeCallCount())

	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusActive, stored.ChainStatus)
	assert.Equal(t, model.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, testContract, stored.ContractAddress)
	assert.Equal(t, uint64(7), stored.ChainCampaignId)
}

func TestRetryWithIdentityProbesOldFinalizeReceipt(t *testing.T) {
	db := newTestDB(t)

	oldHash := common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000073").Hex()
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusFailed
		c.ContractAddress = testContract
		c.ChainCampaignId = 7
		c.TransactionHash = oldHash
		c.ErrorMessage = "交易确认超时"
	})

	client := &fakeChainClient{
		checkReceipts: map[string]*types.Receipt{
			oldHash: campaignFinalizedReceipt(t, oldHash, 7, 500000000),
		},
	}
	logic := newCampaignLogic(t, db, client)

	results, err := logic.Retry(context.Background(), campaign.Id)
	require.NoError(t, err)

	result := <-results
	require.NoError(t, result.Err)
	assert.Equal(t, 0, client.createCallCount())
	assert.Equal(t, 0, client.finalizeCallCount())

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, uint64(7), stored.ChainCampaignId)
}

func TestMonitorProcessingFailsStalePending(t *testing.T) {
	db := newTestDB(t)
	campaign := seedCampaign(t, db, func(c *model.CampaignModel) {
		c.ChainStatus = model.ChainStatusPending
	})

	logic := newCampaignLogic(t, db, &fakeChainClient{})

	require.NoError(t, logic.MonitorProcessing(context.Background(), 0))

	var stored model.CampaignModel
	require.NoError(t, db.First(&stored, campaign.Id).Error)
	assert.Equal(t, model.ChainStatusFailed, stored.ChainStatus)
	assert.NotEmpty(t, stored.ErrorMessage)
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }
