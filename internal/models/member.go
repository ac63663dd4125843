package models

import "time"

// MembershipType is the class of cooperative membership.
type MembershipType string

const (
	MembershipRegular   MembershipType = "regular"
	MembershipAssociate MembershipType = "associate"
	MembershipHonorary  MembershipType = "honorary"
)

// MemberStatus is the lifecycle state of a member.
type MemberStatus string

const (
	MemberPending   MemberStatus = "pending"
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberClosed    MemberStatus = "closed"
)

// Member represents a cooperative member. Members are soft-closed, never deleted.
type Member struct {
	ID          int64          `json:"id"`
	Reference   string         `json:"reference"`
	Email       string         `json:"email,omitempty"`
	Type        MembershipType `json:"type"`
	Status      MemberStatus   `json:"status"`
	CreditScore int            `json:"credit_score"`
	JoinedAt    time.Time      `json:"joined_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AutoSaveSetting redirects a share of incoming revenue into a savings account.
type AutoSaveSetting struct {
	MemberID      int64       `json:"member_id"`
	Percentage    int         `json:"percentage"` // 0..100
	AccountType   AccountType `json:"account_type"`
	FromSongSales bool        `json:"from_song_sales"`
	FromStreams   bool        `json:"from_streams"`
	FromTips      bool        `json:"from_tips"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// RevenueSource identifies the upstream producer of a revenue event.
type RevenueSource string

const (
	RevenueSongSale RevenueSource = "song_sale"
	RevenueStream   RevenueSource = "stream"
	RevenueTip      RevenueSource = "tip"
)

// Covers reports whether the setting applies to revenue from src.
func (s *AutoSaveSetting) Covers(src RevenueSource) bool {
	switch src {
	case RevenueSongSale:
		return s.FromSongSales
	case RevenueStream:
		return s.FromStreams
	case RevenueTip:
		return s.FromTips
	}
	return false
}
