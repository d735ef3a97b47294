package ledger

import (
	"context"
	"slices"
	"time"

	"github.com/warp/expense-ledger/docstore"
)

// SendFriendRequest asks toUserID to become fromUserID's friend.
func (s *Service) SendFriendRequest(ctx context.Context, fromUserID, toUserID string) (id string, err error) {
	defer func() { s.finish("send_friend_request", err, "from_user_id", fromUserID, "to_user_id", toUserID) }()

	switch {
	case fromUserID == "":
		return "", invalid("fromUserId", "is required")
	case toUserID == "":
		return "", invalid("toUserId", "is required")
	case fromUserID == toUserID:
		return "", invalid("toUserId", "cannot send a friend request to yourself")
	}

	id = s.newID()
	err = s.commit(ctx, txn{
		op:            "send_friend_request",
		sharedCreates: true,
		build: func(ctx context.Context) (*plan, error) {
			friends, err := s.AreFriends(ctx, fromUserID, toUserID)
			if err != nil {
				return nil, err
			}
			if friends {
				return nil, invalid("toUserId", "already friends")
			}
			pair, version, err := s.loadFriendPair(ctx, fromUserID, toUserID)
			if err != nil {
				return nil, err
			}
			if pair != nil && pair.PendingRequestID != "" {
				return nil, invalid("toUserId", "a pending friend request already exists")
			}
			// Requests stored before pair documents existed.
			if pending, err := s.hasPendingRequest(ctx, fromUserID, toUserID); err != nil {
				return nil, err
			} else if pending {
				return nil, invalid("toUserId", "a pending friend request already exists")
			}

			now := s.now()
			req := FriendRequest{
				ID:            id,
				SchemaVersion: SchemaVersion,
				FromUserID:    fromUserID,
				ToUserID:      toUserID,
				Status:        FriendPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			p := &plan{}
			p.add(
				pairWrite(fromUserID, toUserID, version, id, now),
				docstore.Create(CollectionFriendRequests, id, req),
			)
			p.enqueue(outboxID("friend-request", id), Event{
				UserID:  toUserID,
				Type:    EventFriendRequest,
				Linkage: Linkage{FriendRequestID: id, FromUserID: fromUserID},
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionFriendRequests, id)
		},
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// AcceptFriendRequest accepts a pending request addressed to actorID and
// creates both directions of the friendship. Accepting an already accepted
// request succeeds without writing anything.
func (s *Service) AcceptFriendRequest(ctx context.Context, requestID, actorID string) (err error) {
	defer func() { s.finish("accept_friend_request", err, "request_id", requestID, "actor_id", actorID) }()

	return s.commit(ctx, txn{
		op: "accept_friend_request",
		build: func(ctx context.Context) (*plan, error) {
			req, err := s.loadFriendRequest(ctx, requestID)
			if err != nil {
				return nil, err
			}
			if actorID != req.ToUserID {
				return nil, &AuthorizationError{ActorID: actorID, Action: "accept this friend request", Required: "request recipient"}
			}
			switch req.Status {
			case FriendAccepted:
				return &plan{}, nil
			case FriendRejected:
				return nil, &AlreadyProcessedError{Kind: "friend request", ID: requestID, Status: string(req.Status)}
			}

			now := s.now()
			p := &plan{}
			p.add(docstore.Update(CollectionFriendRequests, requestID, map[string]any{
				"status":    FriendAccepted,
				"updatedAt": now,
			}).IfVersionIs(req.Version))
			if err := s.releaseFriendPair(ctx, p, req, now); err != nil {
				return nil, err
			}
			for _, pair := range [][2]string{{req.FromUserID, req.ToUserID}, {req.ToUserID, req.FromUserID}} {
				id := friendID(pair[0], pair[1])
				p.add(docstore.Set(CollectionFriends, id, Friend{
					ID:            id,
					SchemaVersion: SchemaVersion,
					UserID:        pair[0],
					FriendID:      pair[1],
					Status:        FriendAccepted,
					CreatedAt:     now,
					UpdatedAt:     now,
				}))
			}
			return p, nil
		},
	})
}

// RejectFriendRequest rejects a pending request addressed to actorID.
func (s *Service) RejectFriendRequest(ctx context.Context, requestID, actorID string) (err error) {
	defer func() { s.finish("reject_friend_request", err, "request_id", requestID, "actor_id", actorID) }()

	return s.commit(ctx, txn{
		op: "reject_friend_request",
		build: func(ctx context.Context) (*plan, error) {
			req, err := s.loadFriendRequest(ctx, requestID)
			if err != nil {
				return nil, err
			}
			if actorID != req.ToUserID {
				return nil, &AuthorizationError{ActorID: actorID, Action: "reject this friend request", Required: "request recipient"}
			}
			if req.Status != FriendPending {
				return nil, &AlreadyProcessedError{Kind: "friend request", ID: requestID, Status: string(req.Status)}
			}
			now := s.now()
			p := &plan{}
			p.add(docstore.Update(CollectionFriendRequests, requestID, map[string]any{
				"status":    FriendRejected,
				"updatedAt": now,
			}).IfVersionIs(req.Version))
			if err := s.releaseFriendPair(ctx, p, req, now); err != nil {
				return nil, err
			}
			return p, nil
		},
	})
}

// RemoveFriend ends a friendship in both directions.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendUserID string) (err error) {
	defer func() { s.finish("remove_friend", err, "user_id", userID, "friend_id", friendUserID) }()

	friends, err := s.AreFriends(ctx, userID, friendUserID)
	if err != nil {
		return err
	}
	if !friends {
		return &NotFoundError{Kind: "friend", ID: friendUserID}
	}
	now := s.now()
	return s.commit(ctx, txn{
		op: "remove_friend",
		build: func(ctx context.Context) (*plan, error) {
			p := &plan{}
			for _, id := range []string{friendID(userID, friendUserID), friendID(friendUserID, userID)} {
				p.add(docstore.SetMerge(CollectionFriends, id, map[string]any{
					"status":    FriendRejected,
					"updatedAt": now,
				}))
			}
			return p, nil
		},
	})
}

// AreFriends reports whether userID has an accepted friendship with otherID.
func (s *Service) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	var f Friend
	_, err := s.read(ctx, CollectionFriends, friendID(userID, otherID), "friend", &f)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return f.Status == FriendAccepted, nil
}

// ListFriends returns userID's accepted friends.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]Friend, error) {
	docs, err := s.query(ctx, CollectionFriends, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.OpEqual, userID),
			docstore.Where("status", docstore.OpEqual, FriendAccepted),
		},
		OrderBy: "createdAt",
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[Friend](docs, nil)
}

// ListPendingFriendRequests returns requests waiting for userID's answer.
func (s *Service) ListPendingFriendRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	docs, err := s.query(ctx, CollectionFriendRequests, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("toUserId", docstore.OpEqual, userID),
			docstore.Where("status", docstore.OpEqual, FriendPending),
		},
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(r *FriendRequest, v int64) { r.Version = v })
}

// =============================================================================
// PAIR LOCK
// =============================================================================

// loadFriendPair returns the pair document and its version, or nil and 0
// when the two users never exchanged a request.
func (s *Service) loadFriendPair(ctx context.Context, a, b string) (*friendPair, int64, error) {
	var pair friendPair
	v, err := s.read(ctx, CollectionFriendPairs, friendPairID(a, b), "friend pair", &pair)
	if IsNotFound(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return &pair, v, nil
}

// releaseFriendPair clears the pending marker held by req, if it still holds it.
func (s *Service) releaseFriendPair(ctx context.Context, p *plan, req *FriendRequest, now time.Time) error {
	pair, version, err := s.loadFriendPair(ctx, req.FromUserID, req.ToUserID)
	if err != nil {
		return err
	}
	if pair != nil && pair.PendingRequestID == req.ID {
		p.add(pairWrite(req.FromUserID, req.ToUserID, version, "", now))
	}
	return nil
}

// pairWrite creates the pair document on first use and otherwise replaces
// it at the version that was read.
func pairWrite(a, b string, version int64, pendingRequestID string, now time.Time) docstore.Write {
	users := []string{a, b}
	slices.Sort(users)
	doc := friendPair{
		ID:               friendPairID(a, b),
		UserIDs:          users,
		PendingRequestID: pendingRequestID,
		UpdatedAt:        now,
	}
	if version == 0 {
		return docstore.Create(CollectionFriendPairs, doc.ID, doc)
	}
	return docstore.Set(CollectionFriendPairs, doc.ID, doc).IfVersionIs(version)
}

func (s *Service) hasPendingRequest(ctx context.Context, a, b string) (bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		docs, err := s.query(ctx, CollectionFriendRequests, docstore.Query{
			Filters: []docstore.Filter{
				docstore.Where("fromUserId", docstore.OpEqual, pair[0]),
				docstore.Where("toUserId", docstore.OpEqual, pair[1]),
				docstore.Where("status", docstore.OpEqual, FriendPending),
			},
			Limit: 1,
		})
		if err != nil {
			return false, err
		}
		if len(docs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
