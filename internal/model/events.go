package model

// EventType names a settlement event stream tracked by the synchronizer.
type EventType string

const (
	EventCampaignCreated        EventType = "campaign-created"
	EventInvestmentMade         EventType = "investment-made"
	EventCampaignCompleted      EventType = "campaign-completed"
	EventRefundIssued           EventType = "refund-issued"
	EventFundsReleased          EventType = "funds-released"
	EventCertificateIssued      EventType = "certificate-issued"
	EventCertificateRevoked     EventType = "certificate-revoked"
	EventCertificateTransferred EventType = "certificate-transferred"
	EventProposalCreated        EventType = "proposal-created"
	EventVoteCast               EventType = "vote-cast"
	EventProposalExecuted       EventType = "proposal-executed"
	EventProposalCancelled      EventType = "proposal-cancelled"
)

// CampaignCreatedData is the decoded CampaignCreated payload.
type CampaignCreatedData struct {
	CampaignID   string `json:"campaign_id"`
	Campaign     string `json:"campaign"`
	Creator      string `json:"creator"`
	Name         string `json:"name"`
	FundingGoal  string `json:"funding_goal"`
	Deadline     uint64 `json:"deadline"`
	ThresholdBps uint16 `json:"threshold_bps"`
	DocRef       string `json:"doc_ref"`
	Description  string `json:"description"`
}

// InvestmentMadeData is the decoded InvestmentMade payload.
type InvestmentMadeData struct {
	Investor      string `json:"investor"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	ExternalRef   string `json:"external_ref"`
	TotalRaised   string `json:"total_raised"`
}

// CampaignCompletedData is the decoded CampaignCompleted payload.
type CampaignCompletedData struct {
	Successful bool   `json:"successful"`
	Raised     string `json:"raised"`
	Threshold  string `json:"threshold"`
}

// RefundIssuedData is the decoded RefundIssued payload.
type RefundIssuedData struct {
	Investor string `json:"investor"`
	Amount   string `json:"amount"`
}

// FundsReleasedData is the decoded FundsReleased payload.
type FundsReleasedData struct {
	Amount      string `json:"amount"`
	PlatformFee string `json:"platform_fee"`
}

// CertificateIssuedData is the decoded CertificateIssued payload.
type CertificateIssuedData struct {
	TokenID          uint64 `json:"token_id"`
	Owner            string `json:"owner"`
	CampaignID       string `json:"campaign_id"`
	IssuerName       string `json:"issuer_name"`
	InvestmentAmount string `json:"investment_amount"`
	ShareCount       string `json:"share_count"`
	VotingWeight     uint64 `json:"voting_weight"`
	EquityBps        uint16 `json:"equity_bps"`
	MetadataRef      string `json:"metadata_ref"`
}

// CertificateRevokedData is the decoded CertificateRevoked payload.
type CertificateRevokedData struct {
	TokenID uint64 `json:"token_id"`
	Reason  string `json:"reason"`
}

// CertificateTransferredData is the decoded CertificateTransferred payload.
type CertificateTransferredData struct {
	TokenID uint64 `json:"token_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// ProposalCreatedData is the decoded ProposalCreated payload.
type ProposalCreatedData struct {
	ProposalID   uint64 `json:"proposal_id"`
	Proposer     string `json:"proposer"`
	ProposalType uint8  `json:"proposal_type"`
	Title        string `json:"title"`
	Target       string `json:"target"`
	Amount       string `json:"amount"`
	StartTime    uint64 `json:"start_time"`
	EndTime      uint64 `json:"end_time"`
	Quorum       uint64 `json:"quorum"`
}

// VoteCastData is the decoded VoteCast payload.
type VoteCastData struct {
	ProposalID uint64 `json:"proposal_id"`
	Voter      string `json:"voter"`
	Support    bool   `json:"support"`
	Weight     uint64 `json:"weight"`
}

// ProposalExecutedData is the decoded ProposalExecuted payload. Passed is
// false when the proposal was finalized without meeting quorum or majority.
type ProposalExecutedData struct {
	ProposalID   uint64 `json:"proposal_id"`
	Passed       bool   `json:"passed"`
	ForVotes     uint64 `json:"for_votes"`
	AgainstVotes uint64 `json:"against_votes"`
}

// ProposalCancelledData is the decoded ProposalCancelled payload.
type ProposalCancelledData struct {
	ProposalID uint64 `json:"proposal_id"`
}
