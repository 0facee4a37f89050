// Package tree answers hierarchy queries over the sponsorship forest without
// exposing mutation. All traversals are iterative and bounded by an explicit
// depth ceiling so corrupted or adversarial data cannot recurse unbounded.
package tree

import (
	"context"
	"errors"
	"fmt"
)

// DefaultDepthCeiling bounds every traversal.
const DefaultDepthCeiling = 100

// Service exposes read-only queries over sponsor links.
type Service struct {
	store        Store
	depthCeiling int
}

// Option configures a Service instance.
type Option func(*Service)

// WithDepthCeiling overrides the traversal depth ceiling.
func WithDepthCeiling(ceiling int) Option {
	return func(service *Service) {
		service.depthCeiling = ceiling
	}
}

// NewService wires a Service.
func NewService(store Store, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, depthCeiling: DefaultDepthCeiling}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.depthCeiling <= 0 {
		return nil, fmt.Errorf("%w: depth ceiling must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// UplineChain walks sponsor references starting at the direct sponsor of
// accountID, stopping at a root or after maxLevels entries. A missing account
// mid-chain truncates the chain instead of failing: distribution must degrade
// gracefully when sponsor accounts disappear.
func (service *Service) UplineChain(ctx context.Context, accountID string, maxLevels int) ([]string, error) {
	if maxLevels <= 0 || maxLevels > service.depthCeiling {
		maxLevels = service.depthCeiling
	}
	chain := make([]string, 0, maxLevels)
	visited := map[string]struct{}{accountID: {}}
	current := accountID
	for len(chain) < maxLevels {
		sponsorID, err := service.store.SponsorOf(ctx, current)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return chain, nil
			}
			return nil, err
		}
		if sponsorID == "" {
			return chain, nil
		}
		if _, seen := visited[sponsorID]; seen {
			// Corrupted link forming a cycle: stop rather than loop.
			return chain, nil
		}
		visited[sponsorID] = struct{}{}
		chain = append(chain, sponsorID)
		current = sponsorID
	}
	return chain, nil
}

// DownlineTree builds the full descendant tree of an account, each node
// carrying its public profile and direct referral count.
func (service *Service) DownlineTree(ctx context.Context, accountID string) (*Node, error) {
	rootMember, err := service.store.GetMember(ctx, accountID)
	if err != nil {
		return nil, err
	}
	root := &Node{Member: rootMember}

	type frame struct {
		node  *Node
		depth int
	}
	visited := map[string]struct{}{accountID: {}}
	queue := []frame{{node: root, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= service.depthCeiling {
			return nil, fmt.Errorf("%w: ceiling %d at account %s", ErrTreeTooDeep, service.depthCeiling, current.node.AccountID)
		}
		children, err := service.store.ChildrenOf(ctx, current.node.AccountID)
		if err != nil {
			return nil, err
		}
		current.node.DirectCount = len(children)
		for _, child := range children {
			if _, seen := visited[child.AccountID]; seen {
				continue
			}
			visited[child.AccountID] = struct{}{}
			childNode := &Node{Member: child}
			current.node.Children = append(current.node.Children, childNode)
			queue = append(queue, frame{node: childNode, depth: current.depth + 1})
		}
	}
	return root, nil
}

// TeamSize counts every descendant of an account by full traversal. No cached
// counters: team sizes are read far less often than the tree mutates.
func (service *Service) TeamSize(ctx context.Context, accountID string) (int, error) {
	total := 0
	err := service.walkDescendants(ctx, accountID, func(member Member, depth int) {
		total++
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// UsersAtLevel returns the descendants at an exact generational depth below
// the account (level 1 = direct referrals).
func (service *Service) UsersAtLevel(ctx context.Context, accountID string, level int) ([]Member, error) {
	if level < 1 {
		return nil, ErrInvalidLevel
	}
	if level > service.depthCeiling {
		return nil, fmt.Errorf("%w: level %d beyond ceiling %d", ErrTreeTooDeep, level, service.depthCeiling)
	}
	members := make([]Member, 0)
	err := service.walkDescendants(ctx, accountID, func(member Member, depth int) {
		if depth == level {
			members = append(members, member)
		}
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// walkDescendants visits every descendant breadth-first, calling visit with
// the member and its depth below the root.
func (service *Service) walkDescendants(ctx context.Context, accountID string, visit func(member Member, depth int)) error {
	if _, err := service.store.GetMember(ctx, accountID); err != nil {
		return err
	}
	type frame struct {
		accountID string
		depth     int
	}
	visited := map[string]struct{}{accountID: {}}
	queue := []frame{{accountID: accountID, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= service.depthCeiling {
			return fmt.Errorf("%w: ceiling %d at account %s", ErrTreeTooDeep, service.depthCeiling, current.accountID)
		}
		children, err := service.store.ChildrenOf(ctx, current.accountID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if _, seen := visited[child.AccountID]; seen {
				continue
			}
			visited[child.AccountID] = struct{}{}
			visit(child, current.depth+1)
			queue = append(queue, frame{accountID: child.AccountID, depth: current.depth + 1})
		}
	}
	return nil
}
