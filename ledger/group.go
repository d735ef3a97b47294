package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/warp/expense-ledger/docstore"
)

// NewGroup describes a group to create.
type NewGroup struct {
	Name        string
	Description string
	Currency    string
	OwnerID     string
}

// CreateGroup creates a group owned by in.OwnerID, who is its first member.
func (s *Service) CreateGroup(ctx context.Context, in NewGroup) (g *Group, err error) {
	defer func() { s.finish("create_group", err, "owner_id", in.OwnerID) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if in.OwnerID == "" {
		return nil, invalid("ownerId", "is required")
	}
	code := strings.ToUpper(strings.TrimSpace(in.Currency))
	if code == "" {
		code = DefaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, invalid("currency", "%q is not an ISO 4217 code", in.Currency)
	}

	now := s.now()
	id := s.newID()
	g = &Group{
		ID:            id,
		SchemaVersion: SchemaVersion,
		Name:          name,
		Description:   strings.TrimSpace(in.Description),
		Currency:      unit.String(),
		OwnerID:       in.OwnerID,
		MemberIDs:     []string{in.OwnerID},
		Members: map[string]Member{
			in.OwnerID: {Role: RoleOwner, Status: MemberActive, JoinedAt: now},
		},
		Balances:       map[string]decimal.Decimal{in.OwnerID: decimal.Zero},
		TotalSpent:     decimal.Zero,
		Status:         GroupSettled,
		IsActive:       true,
		CreatedBy:      in.OwnerID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}

	err = s.commit(ctx, txn{
		op: "create_group",
		build: func(ctx context.Context) (*plan, error) {
			p := &plan{}
			p.add(docstore.Create(CollectionGroups, id, g))
			p.enqueue(outboxID("group-created", id), Event{
				UserID:  in.OwnerID,
				Type:    EventGroupCreated,
				Linkage: Linkage{GroupID: id},
				Params:  map[string]string{"group": name},
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionGroups, id)
		},
	})
	if err != nil {
		return nil, err
	}
	g.Version = 1
	return g, nil
}

// GetGroup returns one group.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	return s.loadGroup(ctx, groupID)
}

// GetGroupBalances returns the signed balance of every member.
func (s *Service) GetGroupBalances(ctx context.Context, groupID string) (map[string]decimal.Decimal, error) {
	g, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]decimal.Decimal, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		balances[id] = g.Balances[id]
	}
	return balances, nil
}

// ListGroupsForUser returns the active groups userID belongs to, most
// recently active first.
func (s *Service) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	docs, err := s.query(ctx, CollectionGroups, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("memberIds", docstore.OpArrayContains, userID),
			docstore.Where("isActive", docstore.OpEqual, true),
		},
		OrderBy:    "lastActivityAt",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(g *Group, v int64) { g.Version = v })
}

// AddMember adds userID to the group. Only the owner may add members, and
// only users who are already the owner's friends.
func (s *Service) AddMember(ctx context.Context, groupID, actorID, userID string) (err error) {
	defer func() { s.finish("add_member", err, "group_id", groupID, "actor_id", actorID, "user_id", userID) }()

	if userID == "" {
		return invalid("userId", "is required")
	}
	eventID := outboxID("member-added", s.newID())

	return s.commit(ctx, txn{
		op: "add_member",
		build: func(ctx context.Context) (*plan, error) {
			g, err := s.loadGroup(ctx, groupID)
			if err != nil {
				return nil, err
			}
			if actorID != g.OwnerID {
				return nil, &AuthorizationError{ActorID: actorID, Action: "add members", Required: "group owner"}
			}
			if g.IsMember(userID) {
				return nil, invalid("userId", "user %q is already a member", userID)
			}
			friends, err := s.AreFriends(ctx, g.OwnerID, userID)
			if err != nil {
				return nil, err
			}
			if !friends {
				return nil, invalid("userId", "user %q is not a friend of the group owner", userID)
			}

			now := s.now()
			if g.Members == nil {
				g.Members = make(map[string]Member)
			}
			g.Members[userID] = Member{Role: RoleMember, Status: MemberActive, JoinedAt: now}
			if g.Balances == nil {
				g.Balances = make(map[string]decimal.Decimal)
			}
			g.Balances[userID] = decimal.Zero

			p := &plan{}
			p.add(docstore.Update(CollectionGroups, groupID, map[string]any{
				"memberIds":      append(g.MemberIDs, userID),
				"members":        g.Members,
				"balances":       g.Balances,
				"updatedAt":      now,
				"lastActivityAt": now,
			}).IfVersionIs(g.Version))
			p.enqueue(eventID, Event{
				UserID:  userID,
				Type:    EventMemberAdded,
				Linkage: Linkage{GroupID: groupID, FromUserID: actorID},
				Params:  map[string]string{"group": g.Name},
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionOutbox, eventID)
		},
	})
}

// RemoveMember removes userID from the group. The owner may remove anyone
// but themselves; a member may remove themselves. The member must have a
// zero balance and no part in a pending expense.
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID, userID string) (err error) {
	defer func() { s.finish("remove_member", err, "group_id", groupID, "actor_id", actorID, "user_id", userID) }()

	return s.commit(ctx, txn{
		op: "remove_member",
		build: func(ctx context.Context) (*plan, error) {
			g, err := s.loadGroup(ctx, groupID)
			if err != nil {
				return nil, err
			}
			if actorID != g.OwnerID && actorID != userID {
				return nil, &AuthorizationError{ActorID: actorID, Action: "remove members", Required: "group owner"}
			}
			if userID == g.OwnerID {
				return nil, invalid("userId", "the group owner cannot be removed")
			}
			if !g.IsMember(userID) {
				return nil, &NotFoundError{Kind: "member", ID: userID}
			}
			if b := g.Balances[userID]; b.Abs().GreaterThan(Tolerance) {
				return nil, invalid("userId", "member has an outstanding balance of %s", b.StringFixed(2))
			}
			pending, err := s.listExpenses(ctx, groupID, ExpensePending)
			if err != nil {
				return nil, err
			}
			for _, e := range pending {
				if e.Involves(userID) {
					return nil, invalid("userId", "member is part of pending expense %q", e.ID)
				}
			}

			memberIDs := make([]string, 0, len(g.MemberIDs))
			for _, id := range g.MemberIDs {
				if id != userID {
					memberIDs = append(memberIDs, id)
				}
			}
			delete(g.Members, userID)
			delete(g.Balances, userID)
			refreshStatus(g)

			now := s.now()
			p := &plan{}
			p.add(docstore.Update(CollectionGroups, groupID, map[string]any{
				"memberIds":      memberIDs,
				"members":        g.Members,
				"balances":       g.Balances,
				"status":         g.Status,
				"updatedAt":      now,
				"lastActivityAt": now,
			}).IfVersionIs(g.Version))
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			g, err := s.loadGroup(ctx, groupID)
			if err != nil {
				return false, err
			}
			return !g.IsMember(userID), nil
		},
	})
}

// DeleteGroup hard-deletes a group with its expenses and payments. Only the
// owner may delete. Children go first so an interrupted delete can be rerun.
func (s *Service) DeleteGroup(ctx context.Context, groupID, actorID string) (err error) {
	defer func() { s.finish("delete_group", err, "group_id", groupID, "actor_id", actorID) }()

	g, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if actorID != g.OwnerID {
		return &AuthorizationError{ActorID: actorID, Action: "delete the group", Required: "group owner"}
	}

	var children []docstore.Write
	for _, collection := range []string{CollectionPayments, CollectionExpenses} {
		docs, err := s.query(ctx, collection, docstore.Query{
			Filters: []docstore.Filter{docstore.Where("groupId", docstore.OpEqual, groupID)},
		})
		if err != nil {
			return err
		}
		for _, d := range docs {
			children = append(children, docstore.Delete(collection, d.ID))
		}
	}
	for start := 0; start < len(children); start += docstore.MaxBatchSize {
		chunk := children[start:min(start+docstore.MaxBatchSize, len(children))]
		if err := s.commit(ctx, txn{
			op:    "delete_group",
			build: func(context.Context) (*plan, error) { return &plan{writes: chunk}, nil },
		}); err != nil {
			return err
		}
	}

	return s.commit(ctx, txn{
		op: "delete_group",
		build: func(ctx context.Context) (*plan, error) {
			g, err := s.loadGroup(ctx, groupID)
			if err != nil {
				return nil, err
			}
			return &plan{writes: []docstore.Write{
				docstore.Delete(CollectionGroups, groupID).IfVersionIs(g.Version),
			}}, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			ok, err := s.exists(ctx, CollectionGroups, groupID)
			return !ok, err
		},
	})
}
