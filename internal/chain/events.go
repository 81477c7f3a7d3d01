package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/KOPOData2025/HanaChain-sub001/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// 事件签名哈希（topic 0），按事件声明预先计算
var (
	SigCampaignCreated   = crypto.Keccak256Hash([]byte("CampaignCreated(uint256,address,uint256,uint256,string)"))
	SigDonationMade      = crypto.Keccak256Hash([]byte("DonationMade(uint256,address,uint256)"))
	SigCampaignFinalized = crypto.Keccak256Hash([]byte("CampaignFinalized(uint256,uint256,uint256,uint256)"))
	SigCampaignCancelled = crypto.Keccak256Hash([]byte("CampaignCancelled(uint256,uint256)"))
)

// anonymousDonorName 捐赠人名称查询失败或匿名捐赠时的默认展示名
const anonymousDonorName = "anonymous"

// Event 链上领域事件，封闭的事件集合
type Event interface {
	EventName() string
	isChainEvent()
}

// CampaignCreatedEvent 活动创建事件
//
// 发出该事件的合约地址即为新部署的活动合约实例地址，
// 这是发现新部署合约地址的唯一途径。
type CampaignCreatedEvent struct {
	ContractAddress common.Address // 事件来源合约地址
	ChainCampaignId *big.Int       // topic 1
	Beneficiary     common.Address // topic 2
	GoalAmount      *big.Int
	Deadline        *big.Int
	Title           string
	TxHash          common.Hash
	BlockNumber     uint64
}

func (CampaignCreatedEvent) EventName() string { return "CampaignCreated" }
func (CampaignCreatedEvent) isChainEvent()     {}

// DonationMadeEvent 捐赠事件
type DonationMadeEvent struct {
	ChainCampaignId *big.Int       // topic 1
	Donor           common.Address // topic 2 低20字节
	Amount          *big.Int       // 链上整数金额（10^6缩放）
	DonorName       string         // 通过交易哈希反查的捐赠人展示名
	TxHash          common.Hash
	BlockNumber     uint64
}

func (DonationMadeEvent) EventName() string { return "DonationMade" }
func (DonationMadeEvent) isChainEvent()     {}

// AmountUSDC 捐赠金额（USDC，精确小数）
func (e DonationMadeEvent) AmountUSDC() decimal.Decimal {
	return FromTokenUnits(e.Amount)
}

// CampaignFinalizedEvent 活动完结事件
type CampaignFinalizedEvent struct {
	ChainCampaignId   *big.Int // topic 1
	TotalRaised       *big.Int
	PlatformFeeAmount *big.Int
	BeneficiaryAmount *big.Int
	TxHash            common.Hash
	BlockNumber       uint64
}

func (CampaignFinalizedEvent) EventName() string { return "CampaignFinalized" }
func (CampaignFinalizedEvent) isChainEvent()     {}

// TotalRaisedUSDC 总募集金额（USDC，精确小数）
func (e CampaignFinalizedEvent) TotalRaisedUSDC() decimal.Decimal {
	return FromTokenUnits(e.TotalRaised)
}

// CampaignCancelledEvent 活动取消事件
type CampaignCancelledEvent struct {
	ChainCampaignId *big.Int // topic 1
	TotalRefunded   *big.Int
	TxHash          common.Hash
	BlockNumber     uint64
}

func (CampaignCancelledEvent) EventName() string { return "CampaignCancelled" }
func (CampaignCancelledEvent) isChainEvent()     {}

// DonorNameLookup 按捐赠交易哈希反查捐赠人展示名
//
// 返回空字符串表示匿名或无记录，由解码器统一回退为默认展示名。
type DonorNameLookup interface {
	DonorNameByTxHash(txHash string) (string, error)
}

// EventDecoder 事件解码器
type EventDecoder struct {
	campaignABI abi.ABI
	donorLookup DonorNameLookup
}

// NewEventDecoder 创建事件解码器
func NewEventDecoder(donorLookup DonorNameLookup) (*EventDecoder, error) {
	parsedABI, err := abi.JSON(strings.NewReader(campaignABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse campaign ABI: %w", err)
	}

	return &EventDecoder{
		campaignABI: parsedABI,
		donorLookup: donorLookup,
	}, nil
}

// Decode 解码单条日志
//
// 未知的事件签名返回(nil, nil)，不相关的日志属于正常情况直接跳过。
func (d *EventDecoder) Decode(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	switch log.Topics[0] {
	case SigCampaignCreated:
		return d.decodeCampaignCreated(log)
	case SigDonationMade:
		return d.decodeDonationMade(log)
	case SigCampaignFinalized:
		return d.decodeCampaignFinalized(log)
	case SigCampaignCancelled:
		return d.decodeCampaignCancelled(log)
	default:
		return nil, nil
	}
}

// DecodeAll 解码一组日志，跳过不相关条目
func (d *EventDecoder) DecodeAll(logs []types.Log) []Event {
	events := make([]Event, 0, len(logs))
	for _, log := range logs {
		event, err := d.Decode(log)
		if err != nil {
			logger.Warn("Failed to decode log (tx: %s, index: %d): %v", log.TxHash.Hex(), log.Index, err)
			continue
		}
		if event != nil {
			events = append(events, event)
		}
	}
	return events
}

// decodeCampaignCreated 解码活动创建事件
func (d *EventDecoder) decodeCampaignCreated(log types.Log) (Event, error) {
	if len(log.Topics) < 3 {
		return nil, NewContractError("invalid CampaignCreated event: insufficient topics", nil)
	}

	values, err := d.campaignABI.Unpack("CampaignCreated", log.Data)
	if err != nil {
		return nil, NewContractError("failed to unpack CampaignCreated data", err)
	}
	if len(values) < 3 {
		return nil, NewContractError("invalid CampaignCreated event: insufficient data", nil)
	}

	goalAmount, ok := values[0].(*big.Int)
	if !ok {
		return nil, NewContractError("invalid CampaignCreated event: goalAmount type", nil)
	}
	deadline, ok := values[1].(*big.Int)
	if !ok {
		return nil, NewContractError("invalid CampaignCreated event: deadline type", nil)
	}
	title, ok := values[2].(string)
	if !ok {
		return nil, NewContractError("invalid CampaignCreated event: title type", nil)
	}

	return CampaignCreatedEvent{
		ContractAddress: log.Address,
		ChainCampaignId: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Beneficiary:     common.BytesToAddress(log.Topics[2].Bytes()),
		GoalAmount:      goalAmount,
		Deadline:        deadline,
		Title:           title,
		TxHash:          log.TxHash,
		BlockNumber:     log.BlockNumber,
	}, nil
}

// decodeDonationMade 解码捐赠事件
func (d *EventDecoder) decodeDonationMade(log types.Log) (Event, error) {
	if len(log.Topics) < 3 {
		return nil, NewContractError("invalid DonationMade event: insufficient topics", nil)
	}

	values, err := d.campaignABI.Unpack("DonationMade", log.Data)
	if err != nil {
		return nil, NewContractError("failed to unpack DonationMade data", err)
	}
	if len(values) < 1 {
		return nil, NewContractError("invalid DonationMade event: insufficient data", nil)
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, NewContractError("invalid DonationMade event: amount type", nil)
	}

	return DonationMadeEvent{
		ChainCampaignId: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Donor:           common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:          amount,
		DonorName:       d.resolveDonorName(log.TxHash),
		TxHash:          log.TxHash,
		BlockNumber:     log.BlockNumber,
	}, nil
}

// decodeCampaignFinalized 解码活动完结事件
func (d *EventDecoder) decodeCampaignFinalized(log types.Log) (Event, error) {
	if len(log.Topics) < 2 {
		return nil, NewContractError("invalid CampaignFinalized event: insufficient topics", nil)
	}

	values, err := d.campaignABI.Unpack("CampaignFinalized", log.Data)
	if err != nil {
		return nil, NewContractError("failed to unpack CampaignFinalized data", err)
	}
	if len(values) < 3 {
		return nil, NewContractError("invalid CampaignFinalized event: insufficient data", nil)
	}

	totalRaised, _ := values[0].(*big.Int)
	platformFee, _ := values[1].(*big.Int)
	beneficiaryAmount, _ := values[2].(*big.Int)
	if totalRaised == nil || platformFee == nil || beneficiaryAmount == nil {
		return nil, NewContractError("invalid CampaignFinalized event: amount types", nil)
	}

	return CampaignFinalizedEvent{
		ChainCampaignId:   new(big.Int).SetBytes(log.Topics[1].Bytes()),
		TotalRaised:       totalRaised,
		PlatformFeeAmount: platformFee,
		BeneficiaryAmount: beneficiaryAmount,
		TxHash:            log.TxHash,
		BlockNumber:       log.BlockNumber,
	}, nil
}

// decodeCampaignCancelled 解码活动取消事件
func (d *EventDecoder) decodeCampaignCancelled(log types.Log) (Event, error) {
	if len(log.Topics) < 2 {
		return nil, NewContractError("invalid CampaignCancelled event: insufficient topics", nil)
	}

	values, err := d.campaignABI.Unpack("CampaignCancelled", log.Data)
	if err != nil {
		return nil, NewContractError("failed to unpack CampaignCancelled data", err)
	}
	if len(values) < 1 {
		return nil, NewContractError("invalid CampaignCancelled event: insufficient data", nil)
	}

	totalRefunded, ok := values[0].(*big.Int)
	if !ok {
		return nil, NewContractError("invalid CampaignCancelled event: totalRefunded type", nil)
	}

	return CampaignCancelledEvent{
		ChainCampaignId: new(big.Int).SetBytes(log.Topics[1].Bytes()),
		TotalRefunded:   totalRefunded,
		TxHash:          log.TxHash,
		BlockNumber:     log.BlockNumber,
	}, nil
}

// resolveDonorName 反查捐赠人展示名
//
// 查询失败不影响解码结果，回退为默认展示名。
func (d *EventDecoder) resolveDonorName(txHash common.Hash) string {
	if d.donorLookup == nil {
		return anonymousDonorName
	}

	name, err := d.donorLookup.DonorNameByTxHash(txHash.Hex())
	if err != nil {
		logger.Warn("Failed to look up donor name by tx hash %s: %v", txHash.Hex(), err)
		return anonymousDonorName
	}
	if name == "" {
		return anonymousDonorName
	}

	return name
}
