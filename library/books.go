package library

import (
	"context"
	"unicode/utf8"
)

// ShouldSearch decides whether a keystroke in the search box fires a query:
// on Enter, when the box is cleared, or once the term is longer than two
// characters.
func ShouldSearch(term string, enter bool) bool {
	n := utf8.RuneCountInString(term)
	return enter || n == 0 || n > 2
}

// ListBooks searches when term is non-empty and lists everything otherwise,
// then re-renders the book panel in server order.
func (c *Controller) ListBooks(ctx context.Context, term string) error {
	var (
		books []Book
		err   error
	)
	s, gen := c.sessions.Snapshot()
	if term != "" {
		books, err = c.api.SearchBooks(ctx, term)
	} else {
		books, err = c.api.ListBooks(ctx)
	}
	if err != nil {
		c.log.WithError(err).WithField("term", term).Warn("fetching books")
		c.showMessage(MessageError, "Failed to load books. "+describe(err))
		return err
	}

	table := BookTable(books, s)
	c.publish(gen, Fragment{Panel: PanelBooks, Title: "Books", Table: &table}, func() { c.books = books })
	return nil
}

// ListAllBooks is ListBooks without a search term.
func (c *Controller) ListAllBooks(ctx context.Context) error {
	return c.ListBooks(ctx, "")
}

// Book returns a book from the last rendered list, for prefilling the edit
// form. The backend stays authoritative; the copy is never re-rendered.
func (c *Controller) Book(id int64) (Book, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.books {
		if b.ID == id {
			return b, true
		}
	}
	return Book{}, false
}

func (c *Controller) AddBook(ctx context.Context, in BookInput) error {
	if err := c.requireAdmin("add book"); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return c.fail("add book", err)
	}
	res, err := c.api.AddBook(ctx, in)
	if err != nil {
		return c.fail("add book", err)
	}
	c.succeed(res, "Book added successfully!")
	c.refetch(ctx, c.ListAllBooks)
	return nil
}

func (c *Controller) EditBook(ctx context.Context, id int64, in BookInput) error {
	if err := c.requireAdmin("update book"); err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return c.fail("update book", err)
	}
	res, err := c.api.UpdateBook(ctx, id, in)
	if err != nil {
		return c.fail("update book", err)
	}
	c.succeed(res, "Book updated successfully!")
	c.refetch(ctx, c.ListAllBooks)
	return nil
}

// DeleteBook also re-fetches borrow records, which the backend deletes along
// with the book.
func (c *Controller) DeleteBook(ctx context.Context, id int64) error {
	if err := c.requireAdmin("delete book"); err != nil {
		return err
	}
	if !c.confirmed(ctx, "Are you sure you want to delete this book? This may also delete related borrow records.") {
		return nil
	}
	res, err := c.api.DeleteBook(ctx, id)
	if err != nil {
		return c.fail("delete book", err)
	}
	c.succeed(res, "Book deleted successfully!")
	c.refetch(ctx, c.ListAllBooks, c.ListBorrowRecords)
	return nil
}
