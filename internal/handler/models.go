package handler

import (
	"github.com/KOPOData2025/HanaChain-sub001/internal/chain"
	"github.com/gin-gonic/gin"
)

// eventToResponse 链上事件转为响应结构
func eventToResponse(event chain.Event) gin.H {
	switch e := event.(type) {
	case chain.CampaignCreatedEvent:
		return gin.H{
			"type":              e.EventName(),
			"tx_hash":           e.TxHash.Hex(),
			"block_number":      e.BlockNumber,
			"chain_campaign_id": e.ChainCampaignId.Uint64(),
			"beneficiary":       e.Beneficiary.Hex(),
			"goal_amount":       chain.FromTokenUnits(e.GoalAmount),
			"title":             e.Title,
		}
	case chain.DonationMadeEvent:
		return gin.H{
			"type":              e.EventName(),
			"tx_hash":           e.TxHash.Hex(),
			"block_number":      e.BlockNumber,
			"chain_campaign_id": e.ChainCampaignId.Uint64(),
			"donor":             e.Donor.Hex(),
			"donor_name":        e.DonorName,
			"amount":            e.AmountUSDC(),
		}
	case chain.CampaignFinalizedEvent:
		return gin.H{
			"type":               e.EventName(),
			"tx_hash":            e.TxHash.Hex(),
			"block_number":       e.BlockNumber,
			"chain_campaign_id":  e.ChainCampaignId.Uint64(),
			"total_raised":       e.TotalRaisedUSDC(),
			"platform_fee":       chain.FromTokenUnits(e.PlatformFeeAmount),
			"beneficiary_amount": chain.FromTokenUnits(e.BeneficiaryAmount),
		}
	case chain.CampaignCancelledEvent:
		return gin.H{
			"type":              e.EventName(),
			"tx_hash":           e.TxHash.Hex(),
			"block_number":      e.BlockNumber,
			"chain_campaign_id": e.ChainCampaignId.Uint64(),
			"total_refunded":    chain.FromTokenUnits(e.TotalRefunded),
		}
	default:
		return gin.H{"type": event.EventName()}
	}
}
