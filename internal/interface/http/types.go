package httpservice

import (
	"github.com/arkade-os/fee-distributor/internal/core/application"
	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

type readResponseRequest struct {
	RequestID string `json:"requestId"`
	Timestamp int64  `json:"timestamp"`
	Payload   string `json:"payload"`
}

type distributeRequest struct {
	WntReferralRewardsUsd     string `json:"wntReferralRewardsUsd"`
	EsTokenForReferralRewards string `json:"esTokenForReferralRewards"`
	FeesV1Usd                 string `json:"feesV1Usd"`
	FeesV2Usd                 string `json:"feesV2Usd"`
}

type referralRewardsRequest struct {
	Token        string   `json:"token"`
	MaxBatchSize int      `json:"maxBatchSize"`
	Accounts     []string `json:"accounts"`
	Amounts      []string `json:"amounts"`
}

type withdrawRequest struct {
	Token    string `json:"token"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

type initiateResponse struct {
	CycleID   string `json:"cycleId"`
	RequestID string `json:"requestId"`
	State     string `json:"state"`
}

type stateResponse struct {
	State string `json:"state"`
}

type chainRecord struct {
	ChainID      uint64 `json:"chainId"`
	FeeAmount    string `json:"feeAmount"`
	StakedAmount string `json:"stakedAmount"`
}

type referralRewards struct {
	Token      string `json:"token"`
	Authorized string `json:"authorized"`
	Sent       string `json:"sent"`
}

type statusResponse struct {
	State                 string            `json:"state"`
	CycleID               string            `json:"cycleId,omitempty"`
	InitiatedAt           int64             `json:"initiatedAt,omitempty"`
	PendingRequestID      string            `json:"pendingRequestId,omitempty"`
	ReadResponseTimestamp int64             `json:"readResponseTimestamp,omitempty"`
	LastDistributionTime  int64             `json:"lastDistributionTime"`
	OriginalFeeAmount     string            `json:"originalFeeAmount,omitempty"`
	RequiredFeeAmount     string            `json:"requiredFeeAmount,omitempty"`
	BridgedOutAmount      string            `json:"bridgedOutAmount,omitempty"`
	PayoutStep            uint64            `json:"payoutStep,omitempty"`
	Chains                []chainRecord     `json:"chains"`
	ReferralRewards       []referralRewards `json:"referralRewards"`
	LedgerVersion         uint64            `json:"ledgerVersion"`
}

type bridgeTransfer struct {
	FromChainID uint64 `json:"fromChainId"`
	ToChainID   uint64 `json:"toChainId"`
	Amount      string `json:"amount"`
}

type keeperCost struct {
	Keeper       string `json:"keeper"`
	Amount       string `json:"amount"`
	TreasuryOnly bool   `json:"treasuryOnly"`
}

type costBuckets struct {
	Total               string       `json:"total"`
	KeeperCosts         []keeperCost `json:"keeperCosts"`
	KeeperCostsTreasury string       `json:"keeperCostsTreasury"`
	KeeperCostsGlp      string       `json:"keeperCostsGlp"`
	ForExternalService  string       `json:"forExternalService"`
	ForTreasury         string       `json:"forTreasury"`
	ForReferralRewards  string       `json:"forReferralRewards"`
	Residual            string       `json:"residual"`
	TreasuryShortfall   string       `json:"treasuryShortfall"`
}

type referralAuthorization struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type reportResponse struct {
	CycleID             string                  `json:"cycleId"`
	InitiatedAt         int64                   `json:"initiatedAt"`
	ReadResponseAt      int64                   `json:"readResponseAt"`
	DistributedAt       int64                   `json:"distributedAt"`
	Chains              []chainRecord           `json:"chains"`
	Transfers           []bridgeTransfer        `json:"transfers"`
	RequiredFeeAmount   string                  `json:"requiredFeeAmount"`
	FeeTokenDistributed string                  `json:"feeTokenDistributed"`
	Buckets             costBuckets             `json:"buckets"`
	Referrals           []referralAuthorization `json:"referrals"`
}

type listReportsResponse struct {
	Reports []reportResponse `json:"reports"`
}

type eventMessage struct {
	Type  string       `json:"type"`
	Event domain.Event `json:"event"`
}

func (r readResponseRequest) parse() (common.Hash, []byte, error) {
	p := &parser{}
	id := p.hash("requestId", r.RequestID)
	payload := p.bytes("payload", r.Payload)
	if p.err != nil {
		return common.Hash{}, nil, p.err
	}
	return id, payload, nil
}

func (r distributeRequest) parse() (application.DistributeRequest, error) {
	p := &parser{}
	req := application.DistributeRequest{
		WntReferralRewardsUsd:     p.optionalAmount("wntReferralRewardsUsd", r.WntReferralRewardsUsd),
		EsTokenForReferralRewards: p.optionalAmount("esTokenForReferralRewards", r.EsTokenForReferralRewards),
		FeesV1Usd:                 p.optionalAmount("feesV1Usd", r.FeesV1Usd),
		FeesV2Usd:                 p.optionalAmount("feesV2Usd", r.FeesV2Usd),
	}
	return req, p.err
}

func (r referralRewardsRequest) parse() (application.ReferralRewardsRequest, error) {
	p := &parser{}
	req := application.ReferralRewardsRequest{
		Token:        p.address("token", r.Token),
		MaxBatchSize: r.MaxBatchSize,
		Accounts:     make([]common.Address, 0, len(r.Accounts)),
		Amounts:      make([]*uint256.Int, 0, len(r.Amounts)),
	}
	for _, account := range r.Accounts {
		req.Accounts = append(req.Accounts, p.address("accounts", account))
	}
	for _, amount := range r.Amounts {
		req.Amounts = append(req.Amounts, p.amount("amounts", amount))
	}
	return req, p.err
}

func (r withdrawRequest) parse() (token, receiver common.Address, amount *uint256.Int, err error) {
	p := &parser{}
	token = p.address("token", r.Token)
	receiver = p.address("receiver", r.Receiver)
	amount = p.amount("amount", r.Amount)
	return token, receiver, amount, p.err
}

func toStatusResponse(s application.DistributionStatus) statusResponse {
	resp := statusResponse{
		State:                 s.State.String(),
		CycleID:               s.CycleID,
		InitiatedAt:           s.InitiatedAt,
		ReadResponseTimestamp: s.ReadResponseTimestamp,
		LastDistributionTime:  s.LastDistributionTime,
		OriginalFeeAmount:     dec(s.OriginalFeeAmount),
		RequiredFeeAmount:     dec(s.RequiredFeeAmount),
		BridgedOutAmount:      dec(s.BridgedOutAmount),
		PayoutStep:            s.PayoutStep,
		Chains:                toChainRecords(s.Chains),
		ReferralRewards:       make([]referralRewards, 0, len(s.ReferralRewards)),
		LedgerVersion:         s.LedgerVersion,
	}
	if s.PendingRequestID != (common.Hash{}) {
		resp.PendingRequestID = s.PendingRequestID.Hex()
	}
	for _, r := range s.ReferralRewards {
		resp.ReferralRewards = append(resp.ReferralRewards, referralRewards{
			Token:      r.Token.Hex(),
			Authorized: dec(r.Authorized),
			Sent:       dec(r.Sent),
		})
	}
	return resp
}

func toReportResponse(r domain.DistributionReport) reportResponse {
	resp := reportResponse{
		CycleID:             r.CycleID,
		InitiatedAt:         r.InitiatedAt,
		ReadResponseAt:      r.ReadResponseAt,
		DistributedAt:       r.DistributedAt,
		Chains:              toChainRecords(r.Chains),
		Transfers:           make([]bridgeTransfer, 0, len(r.Transfers)),
		RequiredFeeAmount:   dec(r.RequiredFeeAmount),
		FeeTokenDistributed: dec(r.FeeTokenDistributed),
		Buckets: costBuckets{
			Total:               dec(r.Buckets.Total),
			KeeperCosts:         make([]keeperCost, 0, len(r.Buckets.KeeperCosts)),
			KeeperCostsTreasury: dec(r.Buckets.KeeperCostsTreasury),
			KeeperCostsGlp:      dec(r.Buckets.KeeperCostsGlp),
			ForExternalService:  dec(r.Buckets.ForExternalService),
			ForTreasury:         dec(r.Buckets.ForTreasury),
			ForReferralRewards:  dec(r.Buckets.ForReferralRewards),
			Residual:            dec(r.Buckets.Residual),
			TreasuryShortfall:   dec(r.Buckets.TreasuryShortfall),
		},
		Referrals: make([]referralAuthorization, 0, len(r.Referrals)),
	}
	for _, t := range r.Transfers {
		resp.Transfers = append(resp.Transfers, bridgeTransfer{
			FromChainID: t.FromChainID,
			ToChainID:   t.ToChainID,
			Amount:      dec(t.Amount),
		})
	}
	for _, k := range r.Buckets.KeeperCosts {
		resp.Buckets.KeeperCosts = append(resp.Buckets.KeeperCosts, keeperCost{
			Keeper:       k.Keeper.Hex(),
			Amount:       dec(k.Amount),
			TreasuryOnly: k.TreasuryOnly,
		})
	}
	for _, a := range r.Referrals {
		resp.Referrals = append(resp.Referrals, referralAuthorization{
			Token:  a.Token.Hex(),
			Amount: dec(a.Amount),
		})
	}
	return resp
}

func toChainRecords(records domain.ChainRecords) []chainRecord {
	list := make([]chainRecord, 0, len(records))
	for _, c := range records {
		list = append(list, chainRecord{
			ChainID:      c.ChainID,
			FeeAmount:    dec(c.FeeAmount),
			StakedAmount: dec(c.StakedAmount),
		})
	}
	return list
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// parser keeps the first invalid field so that request parsing reads
// linearly.
type parser struct {
	err error
}

func (p *parser) fail(field, format string, args ...any) {
	if p.err != nil {
		return
	}
	p.err = errors.INVALID_PARAMS.New(format, args...).
		WithMetadata(errors.InvalidParamsMetadata{Field: field})
}

func (p *parser) amount(field, s string) *uint256.Int {
	if p.err != nil {
		return nil
	}
	if s == "" {
		p.fail(field, "missing %s", field)
		return nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		p.fail(field, "invalid %s %q: %s", field, s, err)
		return nil
	}
	return v
}

// optionalAmount reads an empty string as zero.
func (p *parser) optionalAmount(field, s string) *uint256.Int {
	if s == "" {
		return uint256.NewInt(0)
	}
	return p.amount(field, s)
}

func (p *parser) address(field, s string) common.Address {
	if p.err != nil {
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		p.fail(field, "invalid %s address %q", field, s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *parser) hash(field, s string) common.Hash {
	if p.err != nil {
		return common.Hash{}
	}
	buf, err := hexutil.Decode(s)
	if err != nil || len(buf) != common.HashLength {
		p.fail(field, "invalid %s %q", field, s)
		return common.Hash{}
	}
	return common.BytesToHash(buf)
}

func (p *parser) bytes(field, s string) []byte {
	if p.err != nil {
		return nil
	}
	buf, err := hexutil.Decode(s)
	if err != nil {
		p.fail(field, "invalid %s: %s", field, err)
		return nil
	}
	return buf
}
