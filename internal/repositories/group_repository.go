package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var (
	ErrGroupNotFound     = errors.New("group not found")
	ErrNotMember         = errors.New("user is not a group member")
	ErrOwnershipConflict = errors.New("group owner changed concurrently")
)

const groupColumns = `id, name, description, is_private, is_active, owner_id, created_at, updated_at`

// GroupRepository abstracts group persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, ownerID int64, name, description string, isPrivate bool, memberIDs []int64) (models.Group, error)
	GetGroup(ctx context.Context, groupID int64) (models.Group, error)
	IsActiveMember(ctx context.Context, groupID int64, userID int64) (bool, error)
	ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error)
	TransferOwnership(ctx context.Context, groupID, currentOwnerID, newOwnerID int64) error
	LeaveGroup(ctx context.Context, groupID int64, userID int64) (bool, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and its members atomically.
func (r *GroupRepo) CreateGroup(ctx context.Context, ownerID int64, name, description string, isPrivate bool, memberIDs []int64) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group models.Group
	if err = tx.GetContext(ctx, &group, `INSERT INTO groups (name, description, is_private, owner_id) VALUES ($1, $2, $3, $4) RETURNING `+groupColumns,
		name, description, isPrivate, ownerID); err != nil {
		return models.Group{}, err
	}

	// ensure owner present and dedupe members
	memberSet := map[int64]struct{}{}
	for _, id := range memberIDs {
		if id != ownerID {
			memberSet[id] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`, group.ID, ownerID, models.RoleOwner); err != nil {
		return models.Group{}, err
	}
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`, group.ID, id, models.RoleMember); err != nil {
			return models.Group{}, err
		}
	}

	if err = tx.SelectContext(ctx, &group.Members, `SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id=$1 ORDER BY joined_at, user_id`, group.ID); err != nil {
		return models.Group{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// GetGroup fetches a group with its ordered member list.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}
	err = r.db.SelectContext(ctx, &group.Members, `SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id=$1 ORDER BY joined_at, user_id`, groupID)
	return group, err
}

// IsActiveMember checks that the group is active and the user belongs to it.
func (r *GroupRepo) IsActiveMember(ctx context.Context, groupID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(
        SELECT 1 FROM group_members gm INNER JOIN groups g ON g.id = gm.group_id
        WHERE gm.group_id=$1 AND gm.user_id=$2 AND g.is_active = TRUE)`, groupID, userID)
	return exists, err
}

// ListGroupIDsForUser returns the active groups that include the user.
func (r *GroupRepo) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT g.id FROM groups g INNER JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.user_id=$1 AND g.is_active = TRUE ORDER BY g.id`, userID)
	return ids, err
}

// ListMemberIDs returns the user ids of all members.
func (r *GroupRepo) ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM group_members WHERE group_id=$1 ORDER BY joined_at, user_id`, groupID)
	return ids, err
}

// TransferOwnership moves the owner role in one transaction. The guarded
// update on groups.owner_id serialises concurrent transfers: whichever
// commits second sees zero affected rows and fails as a whole.
func (r *GroupRepo) TransferOwnership(ctx context.Context, groupID, currentOwnerID, newOwnerID int64) error {
	if currentOwnerID == newOwnerID {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var isMember bool
	if err = tx.GetContext(ctx, &isMember, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, newOwnerID); err != nil {
		return err
	}
	if !isMember {
		err = ErrNotMember
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE groups SET owner_id=$3, updated_at=NOW() WHERE id=$1 AND owner_id=$2 AND is_active = TRUE`, groupID, currentOwnerID, newOwnerID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		err = ErrOwnershipConflict
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE group_members SET role=$3 WHERE group_id=$1 AND user_id=$2`, groupID, currentOwnerID, models.RoleAdmin); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE group_members SET role=$3 WHERE group_id=$1 AND user_id=$2`, groupID, newOwnerID, models.RoleOwner); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// LeaveGroup removes the user from the group. An owner hands the role to the
// longest-standing admin, else member. The last member leaving deactivates
// the group; the returned flag reports that case.
func (r *GroupRepo) LeaveGroup(ctx context.Context, groupID int64, userID int64) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group models.Group
	if err = tx.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM groups WHERE id=$1 FOR UPDATE`, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrGroupNotFound
		}
		return false, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if count == 0 {
		err = ErrNotMember
		return false, err
	}

	var successor int64
	err = tx.GetContext(ctx, &successor, `SELECT user_id FROM group_members WHERE group_id=$1
        ORDER BY CASE role WHEN 'admin' THEN 0 ELSE 1 END, joined_at, user_id LIMIT 1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err = tx.ExecContext(ctx, `UPDATE groups SET is_active = FALSE, updated_at=NOW() WHERE id=$1`, groupID); err != nil {
			return false, err
		}
		err = tx.Commit()
		return err == nil, err
	}
	if err != nil {
		return false, err
	}

	if group.OwnerID == userID {
		if _, err = tx.ExecContext(ctx, `UPDATE groups SET owner_id=$2, updated_at=NOW() WHERE id=$1`, groupID, successor); err != nil {
			return false, err
		}
		if _, err = tx.ExecContext(ctx, `UPDATE group_members SET role=$3 WHERE group_id=$1 AND user_id=$2`, groupID, successor, models.RoleOwner); err != nil {
			return false, err
		}
	}
	err = tx.Commit()
	return false, err
}
