package library

import (
	"context"
	"fmt"
	"strings"
)

// ListBorrowRecords is a no-op when logged out. Members get their own
// records; admins get everyone's.
func (c *Controller) ListBorrowRecords(ctx context.Context) error {
	s, gen := c.sessions.Snapshot()
	if !s.LoggedIn {
		return nil
	}
	records, err := c.api.ListBorrowed(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			c.log.WithError(err).Warn("unauthorized to fetch borrowed records")
			return err
		}
		c.log.WithError(err).Warn("fetching borrowed records")
		c.showMessage(MessageError, "Failed to load borrowed records. "+describe(err))
		return err
	}

	title := "Borrowed Records"
	if VisibilityFor(s).AllUsersLabel {
		title += " (all users)"
	}
	table := RecordTable(records, s, c.now(), c.dateLayout)
	c.publish(gen, Fragment{Panel: PanelRecords, Title: title, Table: &table}, func() { c.records = records })
	return nil
}

func (c *Controller) BorrowBook(ctx context.Context, isbn string) error {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return c.fail("borrow book", &ValidationError{Message: "ISBN is required."})
	}
	res, err := c.api.Borrow(ctx, isbn)
	if err != nil {
		return c.fail("borrow book", err)
	}
	c.succeed(res, "Book borrowed successfully!")
	c.refetch(ctx, c.ListAllBooks, c.ListBorrowRecords)
	return nil
}

func (c *Controller) ReturnBook(ctx context.Context, isbn string) error {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return c.fail("return book", &ValidationError{Message: "ISBN is required."})
	}
	res, err := c.api.Return(ctx, isbn)
	if err != nil {
		return c.fail("return book", err)
	}
	c.succeed(withFine(res), "Book returned successfully!")
	c.refetch(ctx, c.ListAllBooks, c.ListBorrowRecords)
	return nil
}

// AdminReturnBook closes any member's loan by record id.
func (c *Controller) AdminReturnBook(ctx context.Context, recordID int64) error {
	if err := c.requireAdmin("mark book as returned"); err != nil {
		return err
	}
	if !c.confirmed(ctx, "Are you sure you want to mark this book as returned?") {
		return nil
	}
	res, err := c.api.AdminReturn(ctx, recordID)
	if err != nil {
		return c.fail("mark book as returned", err)
	}
	c.succeed(withFine(res), "Book marked as returned!")
	c.refetch(ctx, c.ListAllBooks, c.ListBorrowRecords)
	return nil
}

// PayFine records that a fine was paid at the desk. The admin has to confirm
// the amount; declining sends nothing.
func (c *Controller) PayFine(ctx context.Context, recordID int64) error {
	if err := c.requireAdmin("mark fine as paid"); err != nil {
		return err
	}
	question := "Confirm that the fine has been paid?"
	if r, ok := c.record(recordID); ok && r.FineAmount > 0 {
		question = fmt.Sprintf("Confirm that the fine of %s for %q has been paid?", r.FineAmount, r.BookTitle)
	}
	if !c.confirmed(ctx, question) {
		c.showMessage(MessageError, "Please confirm that the fine has been paid.")
		return nil
	}
	res, err := c.api.PayFine(ctx, recordID)
	if err != nil {
		return c.fail("mark fine as paid", err)
	}
	c.succeed(res, "Fine marked as paid successfully!")
	c.refetch(ctx, c.ListBorrowRecords)
	return nil
}

func (c *Controller) record(id int64) (BorrowRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.RecordID == id {
			return r, true
		}
	}
	return BorrowRecord{}, false
}

// withFine appends the fine charged on return to the server message.
func withFine(res Result) Result {
	if res.Fine > 0 && res.Message != "" {
		res.Message = fmt.Sprintf("%s Fine: %s", res.Message, res.Fine)
	}
	return res
}
