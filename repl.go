package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"library-console/config"
	"library-console/library"
	"library-console/logger"

	"golang.org/x/term"
)

const defaultExportFile = "library.html"

type shell struct {
	sc   *bufio.Scanner
	out  io.Writer
	ctrl *library.Controller

	// fd is the terminal behind stdin, or -1 when input is piped.
	fd int
}

// terminalFD reports the descriptor of in when it is an interactive terminal.
func terminalFD(in io.Reader) int {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return -1
	}
	return int(f.Fd())
}

func runShell(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	log := logger.New(cfg.LogLevel, os.Stderr)

	client, err := library.NewClient(library.ClientOptions{
		BaseURL:   cfg.ServerURL,
		APIPrefix: cfg.APIPrefix,
		Timeout:   cfg.RequestTimeout,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	s := &shell{sc: bufio.NewScanner(in), out: out, fd: terminalFD(in)}

	var confirm library.Confirmer = library.ScannerConfirmer{Scanner: s.sc, Out: out}
	if s.fd >= 0 {
		// prompts and the scanner share one reader of the terminal
		input := library.NewSharedInput(in)
		s.sc = bufio.NewScanner(input.Reader())
		confirm = library.PromptConfirmer{Stdin: input.Reader}
	}

	s.ctrl = library.NewController(library.Options{
		Client:     client,
		Renderer:   library.TextRenderer{Out: out},
		Confirmer:  confirm,
		Logger:     log,
		MessageTTL: cfg.MessageTTL,
		DateLayout: cfg.DateFormat,
	})
	defer s.ctrl.Close()

	// actions that need form input are answered by the shell
	s.ctrl.On(library.ActionLogin, func(ctx context.Context, _ int64) error { return s.handleLogin(ctx) })
	s.ctrl.On(library.ActionRegister, func(ctx context.Context, _ int64) error { return s.handleRegister(ctx) })
	s.ctrl.On(library.ActionChangePassword, func(ctx context.Context, _ int64) error { return s.handleChangePassword(ctx) })
	s.ctrl.On(library.ActionEditBook, s.editBook)

	fmt.Fprintf(out, "Library console connected to %s\n", cfg.ServerURL)
	printHelp(out)
	_ = s.ctrl.RefreshSession(ctx)

	return s.loop(ctx)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  Account: login, logout, register, change password, refresh")
	fmt.Fprintln(out, "  Books: list books, search book, add book, edit book, delete book")
	fmt.Fprintln(out, "  Circulation: borrow, return, list records, mark returned, pay fine")
	fmt.Fprintln(out, "  Users: list users, list pending, approve, reject, add user, delete user")
	fmt.Fprintln(out, "  Screen: actions, do, export")
	fmt.Fprintln(out, "  System: help, exit")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Tips:")
	fmt.Fprintln(out, "  • 'actions' lists every button on screen; 'do' runs one by number")
	fmt.Fprintln(out, "  • For 'search book': press Enter on an empty line to list all books")
}

func (s *shell) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, "\n> ")
		if !s.sc.Scan() {
			return s.sc.Err()
		}
		cmd := strings.ToLower(strings.TrimSpace(s.sc.Text()))

		var err error
		switch cmd {
		case "":
			continue
		case "login":
			err = s.handleLogin(ctx)
		case "logout":
			err = s.ctrl.Logout(ctx)
		case "register":
			err = s.handleRegister(ctx)
		case "change password":
			err = s.handleChangePassword(ctx)
		case "refresh":
			err = s.ctrl.RefreshSession(ctx)
		case "list books":
			err = s.requireLogin(func() error { return s.ctrl.ListAllBooks(ctx) })
		case "search book":
			err = s.requireLogin(func() error { return s.handleSearch(ctx) })
		case "add book":
			err = s.handleAddBook(ctx)
		case "edit book":
			err = s.handleEditBook(ctx)
		case "delete book":
			err = s.withID(ctx, "Book ID: ", s.ctrl.DeleteBook)
		case "borrow":
			err = s.withISBN(ctx, s.ctrl.BorrowBook)
		case "return":
			err = s.withISBN(ctx, s.ctrl.ReturnBook)
		case "list records":
			err = s.requireLogin(func() error { return s.ctrl.ListBorrowRecords(ctx) })
		case "mark returned":
			err = s.withID(ctx, "Record ID: ", s.ctrl.AdminReturnBook)
		case "pay fine":
			err = s.withID(ctx, "Record ID: ", s.ctrl.PayFine)
		case "list users":
			err = s.requireAdmin(func() error { return s.ctrl.ListUsers(ctx) })
		case "list pending":
			err = s.requireAdmin(func() error { return s.ctrl.ListPendingUsers(ctx) })
		case "approve":
			err = s.withID(ctx, "User ID: ", s.ctrl.ApproveUser)
		case "reject":
			err = s.withID(ctx, "User ID: ", s.ctrl.RejectUser)
		case "add user":
			err = s.handleAddUser(ctx)
		case "delete user":
			err = s.withID(ctx, "User ID: ", s.ctrl.DeleteUser)
		case "actions":
			s.handleActions()
		case "do":
			err = s.handleDo(ctx)
		case "export":
			err = s.handleExport()
		case "help":
			printHelp(s.out)
		case "exit", "quit":
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(s.out, "Unknown command. Type 'help' to see the available commands.")
		}
		s.report(err)
	}
}

// report prints failures the status banner did not already show.
func (s *shell) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, library.ErrAdminRequired):
		fmt.Fprintln(s.out, "Error: this command requires an admin session.")
	case errors.Is(err, library.ErrUnknownAction), errors.Is(err, errNotLoggedIn):
		fmt.Fprintf(s.out, "Error: %v\n", err)
	case errors.Is(err, io.EOF):
		fmt.Fprintln(s.out, "\nInput closed.")
	}
}

var errNotLoggedIn = errors.New("please log in first")

func (s *shell) requireLogin(fn func() error) error {
	if !s.ctrl.Session().LoggedIn {
		return errNotLoggedIn
	}
	return fn()
}

func (s *shell) requireAdmin(fn func() error) error {
	if !s.ctrl.Session().IsAdmin() {
		return library.ErrAdminRequired
	}
	return fn()
}

// ------------------ Input helpers ------------------

func (s *shell) ask(prompt string) (string, bool) {
	fmt.Fprint(s.out, prompt)
	if !s.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.sc.Text()), true
}

// readPassword masks input on a terminal and falls back to a plain line
// otherwise.
func (s *shell) readPassword(prompt string) (string, error) {
	if s.fd < 0 {
		line, ok := s.ask(prompt)
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
	fmt.Fprint(s.out, prompt)
	bytePassword, err := term.ReadPassword(s.fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(s.out)
	return strings.TrimSpace(string(bytePassword)), nil
}

func (s *shell) readID(prompt string) (int64, bool) {
	raw, ok := s.ask(prompt)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(s.out, "Invalid ID: %s\n", raw)
		return 0, false
	}
	return id, true
}

func (s *shell) withID(ctx context.Context, prompt string, fn func(context.Context, int64) error) error {
	id, ok := s.readID(prompt)
	if !ok {
		return nil
	}
	return fn(ctx, id)
}

func (s *shell) withISBN(ctx context.Context, fn func(context.Context, string) error) error {
	isbn, ok := s.ask("Book ISBN: ")
	if !ok {
		return nil
	}
	return fn(ctx, isbn)
}

// ------------------ Account ------------------

func (s *shell) handleLogin(ctx context.Context) error {
	username, ok := s.ask("Username: ")
	if !ok {
		return io.EOF
	}
	password, err := s.readPassword("Password: ")
	if err != nil {
		return err
	}
	return s.ctrl.Login(ctx, username, password)
}

func (s *shell) handleRegister(ctx context.Context) error {
	username, ok := s.ask("Username: ")
	if !ok {
		return io.EOF
	}
	password, err := s.readPassword(fmt.Sprintf("Enter password for %s: ", username))
	if err != nil {
		return err
	}
	return s.ctrl.Register(ctx, username, password)
}

func (s *shell) handleChangePassword(ctx context.Context) error {
	if !s.ctrl.Session().LoggedIn {
		return errNotLoggedIn
	}
	current, err := s.readPassword("Current password: ")
	if err != nil {
		return err
	}
	next, err := s.readPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := s.readPassword("Confirm new password: ")
	if err != nil {
		return err
	}
	return s.ctrl.ChangePassword(ctx, current, next, confirm)
}

func (s *shell) handleAddUser(ctx context.Context) error {
	if !s.ctrl.Session().IsAdmin() {
		return library.ErrAdminRequired
	}
	username, ok := s.ask("Username: ")
	if !ok {
		return io.EOF
	}
	password, err := s.readPassword(fmt.Sprintf("Enter password for %s: ", username))
	if err != nil {
		return err
	}
	role, ok := s.ask("Role (member/admin) [member]: ")
	if !ok {
		return io.EOF
	}
	if role == "" {
		role = string(library.RoleMember)
	}
	return s.ctrl.AdminAddUser(ctx, username, password, library.Role(strings.ToLower(role)))
}

// ------------------ Books ------------------

func (s *shell) handleSearch(ctx context.Context) error {
	query, ok := s.ask("Search (title, author or ISBN): ")
	if !ok {
		return io.EOF
	}
	// a line is only submitted on Enter
	if !library.ShouldSearch(query, true) {
		return nil
	}
	return s.ctrl.ListBooks(ctx, query)
}

func (s *shell) readBookInput(current library.Book) (library.BookInput, bool) {
	field := func(label, def string) (string, bool) {
		prompt := label + ": "
		if def != "" {
			prompt = fmt.Sprintf("%s [%s]: ", label, def)
		}
		v, ok := s.ask(prompt)
		if v == "" {
			v = def
		}
		return v, ok
	}

	in := library.BookInput{}
	var ok bool
	if in.Title, ok = field("Title", current.Title); !ok {
		return in, false
	}
	if in.Author, ok = field("Author", current.Author); !ok {
		return in, false
	}
	if in.ISBN, ok = field("ISBN", current.ISBN); !ok {
		return in, false
	}
	defQty := ""
	if current.ID != 0 {
		defQty = strconv.Itoa(current.Quantity)
	}
	qty, ok := field("Quantity", defQty)
	if !ok {
		return in, false
	}
	n, err := strconv.Atoi(qty)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid quantity: %s\n", qty)
		return in, false
	}
	in.Quantity = n
	return in, true
}

func (s *shell) handleAddBook(ctx context.Context) error {
	if !s.ctrl.Session().IsAdmin() {
		return library.ErrAdminRequired
	}
	in, ok := s.readBookInput(library.Book{})
	if !ok {
		return nil
	}
	return s.ctrl.AddBook(ctx, in)
}

func (s *shell) handleEditBook(ctx context.Context) error {
	if !s.ctrl.Session().IsAdmin() {
		return library.ErrAdminRequired
	}
	return s.withID(ctx, "Book ID: ", s.editBook)
}

// editBook prefills the form from the last fetched list.
func (s *shell) editBook(ctx context.Context, id int64) error {
	current, ok := s.ctrl.Book(id)
	if !ok {
		fmt.Fprintf(s.out, "Book %d is not in the current list; run 'list books' first.\n", id)
		return nil
	}
	in, ok := s.readBookInput(current)
	if !ok {
		return nil
	}
	return s.ctrl.EditBook(ctx, id, in)
}

// ------------------ Screen ------------------

func (s *shell) handleActions() {
	actions := s.ctrl.Screen().Actions()
	if len(actions) == 0 {
		fmt.Fprintln(s.out, "No actions available.")
		return
	}
	fmt.Fprintf(s.out, "%-5s %-18s %-16s %s\n", "#", "Action", "Label", "Target")
	fmt.Fprintln(s.out, strings.Repeat("-", 50))
	for i, a := range actions {
		target := "-"
		if a.Target != 0 {
			target = strconv.FormatInt(a.Target, 10)
		}
		fmt.Fprintf(s.out, "%-5d %-18s %-16s %s\n", i+1, a.Kind, a.Label, target)
	}
}

func (s *shell) handleDo(ctx context.Context) error {
	actions := s.ctrl.Screen().Actions()
	raw, ok := s.ask("Action #: ")
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > len(actions) {
		fmt.Fprintf(s.out, "Invalid action number: %s\n", raw)
		return nil
	}
	return s.ctrl.Dispatch(ctx, actions[n-1])
}

func (s *shell) handleExport() error {
	path, ok := s.ask(fmt.Sprintf("Output file [%s]: ", defaultExportFile))
	if !ok {
		return nil
	}
	if path == "" {
		path = defaultExportFile
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(s.out, "Error creating %s: %v\n", path, err)
		return nil
	}
	defer f.Close()

	if err := (library.HTMLRenderer{Out: f}).WriteScreen(s.ctrl.Screen()); err != nil {
		fmt.Fprintf(s.out, "Error writing %s: %v\n", path, err)
		return nil
	}
	fmt.Fprintf(s.out, "Screen exported to %s\n", path)
	return nil
}
