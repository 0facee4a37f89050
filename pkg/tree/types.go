package tree

import "context"

// Member carries the public profile fields exposed by hierarchy queries.
type Member struct {
	AccountID          string
	Name               string
	ReferralCode       string
	TotalInvestedCents int64
	JoinedUnixUTC      int64
}

// Node is one account in a downline tree, with its direct referrals attached.
type Node struct {
	Member
	DirectCount int
	Children    []*Node
}

// Store is the read-only persistence contract for sponsorship edges.
type Store interface {
	// SponsorOf returns the sponsor's account id, or "" for a root.
	// A missing account reports ErrAccountNotFound.
	SponsorOf(ctx context.Context, accountID string) (string, error)
	// ChildrenOf lists the direct referrals of an account.
	ChildrenOf(ctx context.Context, accountID string) ([]Member, error)
	// GetMember loads the public profile of one account.
	GetMember(ctx context.Context, accountID string) (Member, error)
}
