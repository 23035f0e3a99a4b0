package library

import (
	"context"
	"fmt"
)

// ListUsers is a no-op unless the session is admin. 401/403 are logged only:
// they mean the session expired server-side, which the next status check shows.
func (c *Controller) ListUsers(ctx context.Context) error {
	s, gen := c.sessions.Snapshot()
	if !s.IsAdmin() {
		return nil
	}
	users, err := c.api.ListUsers(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			c.log.WithError(err).Warn("unauthorized to fetch users")
			return err
		}
		c.log.WithError(err).Warn("fetching users")
		c.showMessage(MessageError, "Failed to load users. "+describe(err))
		return err
	}

	table := UserTable(users)
	c.publish(gen, Fragment{Panel: PanelUsers, Title: "Users", Table: &table}, func() { c.users = users })
	return nil
}

// ListPendingUsers is a no-op unless the session is admin.
func (c *Controller) ListPendingUsers(ctx context.Context) error {
	s, gen := c.sessions.Snapshot()
	if !s.IsAdmin() {
		return nil
	}
	users, err := c.api.ListPendingUsers(ctx)
	if err != nil {
		c.log.WithError(err).Warn("fetching pending users")
		c.showMessage(MessageError, "Failed to load pending users. "+describe(err))
		return err
	}
	table := PendingTable(users)
	c.publish(gen, Fragment{Panel: PanelPending, Title: "Pending Approval", Table: &table}, nil)
	return nil
}

func (c *Controller) ApproveUser(ctx context.Context, id int64) error {
	return c.decidePending(ctx, id, "approve user", "Approve this user?", c.api.ApproveUser)
}

func (c *Controller) RejectUser(ctx context.Context, id int64) error {
	return c.decidePending(ctx, id, "reject user", "Reject this user?", c.api.RejectUser)
}

func (c *Controller) decidePending(ctx context.Context, id int64, action, question string,
	call func(context.Context, int64) (Result, error)) error {
	if err := c.requireAdmin(action); err != nil {
		return err
	}
	if !c.confirmed(ctx, question) {
		return nil
	}
	res, err := call(ctx, id)
	if err != nil {
		return c.fail(action, err)
	}
	c.succeed(res, "Done")
	c.refetch(ctx, c.ListPendingUsers, c.ListUsers)
	return nil
}

// DeleteUser re-reads the target first and refuses locally when it is the
// initial admin. The backend enforces the same rule; if the lookup itself
// fails the delete proceeds and the backend decides.
func (c *Controller) DeleteUser(ctx context.Context, id int64) error {
	if err := c.requireAdmin("delete user"); err != nil {
		return err
	}

	username := c.knownUsername(id)
	target, err := c.api.GetUser(ctx, id)
	switch {
	case err != nil:
		c.log.WithError(err).WithField("user_id", id).Warn("checking user details")
	case bool(target.IsInitialAdmin):
		c.showMessage(MessageError, "Cannot delete the initial admin user.")
		return ErrProtectedUser
	case target.Username != "":
		username = target.Username
	}

	question := fmt.Sprintf("Are you sure you want to delete user %q? This action cannot be undone and will also delete all their borrowed records.", username)
	if !c.confirmed(ctx, question) {
		return nil
	}
	res, err := c.api.DeleteUser(ctx, id)
	if err != nil {
		return c.fail("delete user", err)
	}
	c.succeed(res, "User deleted successfully!")
	c.refetch(ctx, c.ListUsers, c.ListBorrowRecords)
	return nil
}

func (c *Controller) knownUsername(id int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.users {
		if u.ID == id {
			return u.Username
		}
	}
	return fmt.Sprintf("#%d", id)
}
