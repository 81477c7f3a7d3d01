package handler

import (
	"net/http"
	"strconv"

	"github.com/KOPOData2025/HanaChain-sub001/internal/logic"
	"github.com/KOPOData2025/HanaChain-sub001/internal/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ChainHandler 链上操作接口
type ChainHandler struct {
	db            *gorm.DB
	campaignLogic *logic.CampaignChainLogic
	donationLogic *logic.DonationChainLogic
	syncLogic     *logic.SyncLogic
}

func NewChainHandler(db *gorm.DB, campaignLogic *logic.CampaignChainLogic, donationLogic *logic.DonationChainLogic, syncLogic *logic.SyncLogic) *ChainHandler {
	return &ChainHandler{
		db:            db,
		campaignLogic: campaignLogic,
		donationLogic: donationLogic,
		syncLogic:     syncLogic,
	}
}

// DeployCampaign 发起活动上链
//
// 默认异步受理立即返回，携带wait=true时阻塞到链上确认完成。
func (h *ChainHandler) DeployCampaign(c *gin.Context) {
	campaignId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	results, err := h.campaignLogic.Create(c.Request.Context(), campaignId)
	if err != nil {
		chainErrorResponse(c, err)
		return
	}

	if c.Query("wait") == "true" {
		h.respondWithResult(c, <-results)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "上链请求已受理", gin.H{
		"campaign_id":  campaignId,
		"chain_status": model.ChainStatusPending,
	})
}

// RetryCampaign 重试失败的活动上链
func (h *ChainHandler) RetryCampaign(c *gin.Context) {
	campaignId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	results, err := h.campaignLogic.Retry(c.Request.Context(), campaignId)
	if err != nil {
		chainErrorResponse(c, err)
		return
	}

	if c.Query("wait") == "true" {
		h.respondWithResult(c, <-results)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "重试请求已受理", gin.H{
		"campaign_id": campaignId,
	})
}

// FinalizeCampaign 发起活动完结
func (h *ChainHandler) FinalizeCampaign(c *gin.Context) {
	campaignId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	results, err := h.campaignLogic.Finalize(c.Request.Context(), campaignId)
	if err != nil {
		chainErrorResponse(c, err)
		return
	}

	if c.Query("wait") == "true" {
		h.respondWithResult(c, <-results)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "完结请求已受理", gin.H{
		"campaign_id": campaignId,
	})
}

// GetChainStatus 查询活动链上状态
func (h *ChainHandler) GetChainStatus(c *gin.Context) {
	campaignId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	var campaign model.CampaignModel
	if err := h.db.First(&campaign, campaignId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			ErrorResponse(c, http.StatusNotFound, "活动不存在")
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	SuccessResponse(c, http.StatusOK, "查询成功", gin.H{
		"campaign_id":       campaign.Id,
		"chain_status":      campaign.ChainStatus,
		"transaction_hash":  campaign.TransactionHash,
		"contract_address":  campaign.ContractAddress,
		"chain_campaign_id": campaign.ChainCampaignId,
		"current_amount":    campaign.CurrentAmount,
		"error_message":     campaign.ErrorMessage,
	})
}

// SyncCampaign 手动触发单个活动的链上状态同步
func (h *ChainHandler) SyncCampaign(c *gin.Context) {
	campaignId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	if err := h.syncLogic.Reconcile(c.Request.Context(), campaignId); err != nil {
		chainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "同步完成", gin.H{
		"campaign_id": campaignId,
	})
}

// GetCampaignTransactions 查询活动的链上交易明细
func (h *ChainHandler) GetCampaignTransactions(c *gin.Context) {
	campaignId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的活动ID")
		return
	}

	events, err := h.syncLogic.CampaignTransactions(c.Request.Context(), campaignId)
	if err != nil {
		chainErrorResponse(c, err)
		return
	}

	items := make([]gin.H, 0, len(events))
	for _, event := range events {
		items = append(items, eventToResponse(event))
	}

	SuccessResponse(c, http.StatusOK, "查询成功", gin.H{
		"campaign_id":  campaignId,
		"transactions": items,
		"total":        len(items),
	})
}

// DeployDonation 发起捐赠上链
func (h *ChainHandler) DeployDonation(c *gin.Context) {
	donationId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的捐赠ID")
		return
	}

	results, err := h.donationLogic.Donate(c.Request.Context(), donationId)
	if err != nil {
		chainErrorResponse(c, err)
		return
	}

	if c.Query("wait") == "true" {
		h.respondWithResult(c, <-results)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "捐赠上链请求已受理", gin.H{
		"donation_id":  donationId,
		"chain_status": model.ChainStatusPending,
	})
}

// respondWithResult 阻塞式受理的最终结果响应
func (h *ChainHandler) respondWithResult(c *gin.Context, result logic.ChainResult) {
	if result.Err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Message: result.Err.Error(),
			Data: gin.H{
				"record_id":    result.RecordId,
				"tx_hash":      result.TxHash,
				"chain_status": result.Status,
			},
		})
		return
	}

	SuccessResponse(c, http.StatusOK, "链上操作完成", gin.H{
		"record_id":    result.RecordId,
		"tx_hash":      result.TxHash,
		"chain_status": result.Status,
	})
}
