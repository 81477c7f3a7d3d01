package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/KOPOData2025/HanaChain-sub001/internal/logic"
	"github.com/KOPOData2025/HanaChain-sub001/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// stubChainClient 不触链的客户端替身，处理器测试只覆盖校验与状态映射
type stubChainClient struct{}

func (stubChainClient) CreateCampaign(ctx context.Context, beneficiary string, goalAmount decimal.Decimal, durationSeconds int64, title, description string) (common.Hash, error) {
	return common.Hash{}, chain.NewNetworkError("rpc unavailable", nil)
}

func (stubChainClient) Donate(ctx context.Context, chainCampaignId uint64, amount decimal.Decimal) (common.Hash, error) {
	return common.Hash{}, chain.NewNetworkError("rpc unavailable", nil)
}

func (stubChainClient) FinalizeCampaign(ctx context.Context, chainCampaignId uint64) (common.Hash, error) {
	return common.Hash{}, chain.NewNetworkError("rpc unavailable", nil)
}

func (stubChainClient) ApproveUSDC(ctx context.Context, amount decimal.Decimal) (common.Hash, error) {
	return common.Hash{}, chain.NewNetworkError("rpc unavailable", nil)
}

func (stubChainClient) GetCampaign(ctx context.Context, chainCampaignId uint64) (*chain.CampaignState, error) {
	return nil, chain.NewNetworkError("rpc unavailable", nil)
}

func (stubChainClient) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	return nil, chain.NewTimeoutError(txHash, "transaction confirmation timed out")
}

func (stubChainClient) CheckReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	return nil, nil
}

func (stubChainClient) QueryCampaignLogs(ctx context.Context, contractAddress string) ([]types.Log, error) {
	return nil, nil
}

func setupTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.CampaignModel{}, &model.DonationModel{}))

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	decoder, err := chain.NewEventDecoder(nil)
	require.NoError(t, err)

	client := stubChainClient{}
	campaignLogic := logic.NewCampaignChainLogic(db, client, decoder, pool)
	donationLogic := logic.NewDonationChainLogic(db, client, pool)
	syncLogic := logic.NewSyncLogic(db, client, decoder)

	r := gin.New()
	h := NewChainHandler(db, campaignLogic, donationLogic, syncLogic)
	r.POST("/api/v1/campaigns/:id/chain", h.DeployCampaign)
	r.GET("/api/v1/campaigns/:id/chain", h.GetChainStatus)
	r.POST("/api/v1/donations/:id/chain", h.DeployDonation)

	return r, db
}

func TestGetChainStatus(t *testing.T) {
	r, db := setupTestRouter(t)

	now := time.Now()
	campaign := &model.CampaignModel{
		Title:              "Hope Campaign",
		TargetAmount:       decimal.RequireFromString("500"),
		StartTime:          now,
		EndTime:            now.Add(24 * time.Hour),
		Status:             model.CampaignStatusActive,
		BeneficiaryAddress: "0x2222222222222222222222222222222222222222",
		ChainStatus:        model.ChainStatusActive,
		ContractAddress:    "0x1111111111111111111111111111111111111111",
		ChainCampaignId:    7,
		TransactionHash:    "0xabc",
	}
	require.NoError(t, db.Create(campaign).Error)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/campaigns/1/chain", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "active", data["chain_status"])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", data["contract_address"])
}

func TestGetChainStatusNotFound(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/campaigns/999/chain", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeployCampaignInvalidId(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/campaigns/abc/chain", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeployCampaignValidationMapsToBadRequest(t *testing.T) {
	r, db := setupTestRouter(t)

	now := time.Now()
	campaign := &model.CampaignModel{
		Title:              "Hope Campaign",
		TargetAmount:       decimal.RequireFromString("500"),
		StartTime:          now,
		EndTime:            now.Add(24 * time.Hour),
		Status:             model.CampaignStatusActive,
		BeneficiaryAddress: "not-an-address",
		ChainStatus:        model.ChainStatusNone,
	}
	require.NoError(t, db.Create(campaign).Error)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/campaigns/1/chain", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "受益人地址")
}

func TestDeployDonationMissingRecord(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/donations/1/chain", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
