package library

import (
	"context"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest new password accepted before any request.
const MinPasswordLength = 6

// RefreshSession asks the backend who is logged in and pushes the answer into
// the session store, which re-renders visibility and nav. A failed query is
// treated as logged out.
func (c *Controller) RefreshSession(ctx context.Context) error {
	s, err := c.api.Status(ctx)
	if err != nil {
		c.log.WithError(err).Warn("checking auth status")
		s = Session{}
	}
	c.sessions.Update(ctx, s)
	return err
}

func (c *Controller) onSessionChange(ctx context.Context, s Session) {
	c.updateVisibility(ctx, s)
	c.updateNav(s)
}

// updateVisibility hides the panels the session may not see, then re-fetches
// the ones it may.
func (c *Controller) updateVisibility(ctx context.Context, s Session) {
	v := VisibilityFor(s)

	if !s.LoggedIn {
		c.mu.Lock()
		c.books, c.users, c.records = nil, nil, nil
		c.mu.Unlock()
		c.render(Fragment{Panel: PanelBooks, Hidden: true})
	}
	if !v.BorrowedSection {
		c.render(Fragment{Panel: PanelRecords, Hidden: true})
	}
	if !v.AdminSection {
		c.mu.Lock()
		c.users = nil
		c.mu.Unlock()
		c.render(Fragment{Panel: PanelUsers, Hidden: true})
		c.render(Fragment{Panel: PanelPending, Hidden: true})
	}

	var fetches []func(context.Context) error
	if s.LoggedIn {
		fetches = append(fetches, c.ListAllBooks, c.ListBorrowRecords)
	}
	if s.IsAdmin() {
		fetches = append(fetches, c.ListUsers, c.ListPendingUsers)
	}
	c.refetch(ctx, fetches...)
}

func (c *Controller) updateNav(s Session) {
	nav := NavFor(s)
	c.render(Fragment{Panel: PanelNav, Nav: &nav})
}

// Login authenticates and then reloads the session from the backend. The
// success banner waits for the status query, so a login the backend does not
// confirm is reported as a failure.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return c.fail("log in", &ValidationError{Message: "Username and password are required."})
	}
	res, err := c.api.Login(ctx, username, password)
	if err != nil {
		return c.fail("log in", err)
	}
	s, err := c.api.Status(ctx)
	if err == nil && !s.LoggedIn {
		err = ErrSessionNotEstablished
	}
	if err != nil {
		c.sessions.Update(ctx, Session{})
		return c.fail("log in", err)
	}
	c.log.WithField("username", username).Info("logged in")
	c.succeed(res, "Login successful")
	c.sessions.Update(ctx, s)
	return nil
}

// Logout ends the session. On failure the session is left as it was.
func (c *Controller) Logout(ctx context.Context) error {
	res, err := c.api.Logout(ctx)
	if err != nil {
		return c.fail("log out", err)
	}
	c.succeed(res, "Logged out")
	c.sessions.Update(ctx, Session{})
	return nil
}

// ValidatePasswordChange runs the checks that gate the change-password request.
func ValidatePasswordChange(next, confirm string) error {
	if next != confirm {
		return &ValidationError{Message: "New passwords do not match!"}
	}
	if utf8.RuneCountInString(next) < MinPasswordLength {
		return &ValidationError{Message: "New password must be at least 6 characters long!"}
	}
	return nil
}

// ChangePassword sends the request only if next == confirm and next is long
// enough.
func (c *Controller) ChangePassword(ctx context.Context, current, next, confirm string) error {
	if err := ValidatePasswordChange(next, confirm); err != nil {
		return c.fail("change password", err)
	}
	res, err := c.api.ChangePassword(ctx, current, next)
	if err != nil {
		return c.fail("change password", err)
	}
	c.succeed(res, "Password changed successfully!")
	return nil
}

// Register requests a new account; it stays pending until an admin approves it.
func (c *Controller) Register(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return c.fail("register", &ValidationError{Message: "Username and password are required."})
	}
	res, err := c.api.Register(ctx, RegisterRequest{Username: username, Password: password})
	if err != nil {
		return c.fail("register", err)
	}
	c.succeed(res, "Account requested. Awaiting admin approval.")
	return nil
}

// AdminAddUser creates an already approved account with the given role.
func (c *Controller) AdminAddUser(ctx context.Context, username, password string, role Role) error {
	if err := c.requireAdmin("add user"); err != nil {
		return err
	}
	if strings.TrimSpace(username) == "" || password == "" {
		return c.fail("add user", &ValidationError{Message: "Username and password are required."})
	}
	if role != RoleMember && role != RoleAdmin {
		return c.fail("add user", &ValidationError{Message: "Role must be member or admin."})
	}
	res, err := c.api.Register(ctx, RegisterRequest{Username: username, Password: password, Role: role})
	if err != nil {
		return c.fail("add user", err)
	}
	c.succeed(res, "User added successfully!")
	c.refetch(ctx, c.ListUsers)
	return nil
}
