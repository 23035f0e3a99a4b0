package library

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ActionKind names something a row or the nav bar lets the user do.
type ActionKind string

const (
	ActionLogin          ActionKind = "login"
	ActionRegister       ActionKind = "register"
	ActionLogout         ActionKind = "logout"
	ActionChangePassword ActionKind = "change-password"
	ActionEditBook       ActionKind = "edit-book"
	ActionDeleteBook     ActionKind = "delete-book"
	ActionApproveUser    ActionKind = "approve-user"
	ActionRejectUser     ActionKind = "reject-user"
	ActionDeleteUser     ActionKind = "delete-user"
	ActionMarkReturned   ActionKind = "mark-returned"
	ActionMarkFinePaid   ActionKind = "mark-fine-paid"
)

// Action is a structured event target. Renderers show it; Controller.Dispatch
// runs whatever listener is registered for its Kind.
type Action struct {
	Kind   ActionKind
	Label  string
	Target int64
}

// Row is one table row. Note is shown in the actions column when a row has
// no actions (e.g. "Protected").
type Row struct {
	Cells   []string
	Class   string
	Actions []Action
	Note    string
}

// Table is the declarative output of a view builder.
type Table struct {
	Headers    []string
	Rows       []Row
	Empty      string
	HasActions bool
}

// Panel identifies a region of the screen.
type Panel string

const (
	PanelNav     Panel = "nav"
	PanelMessage Panel = "message"
	PanelBooks   Panel = "books"
	PanelUsers   Panel = "users"
	PanelPending Panel = "pending"
	PanelRecords Panel = "records"
)

var panelOrder = []Panel{PanelNav, PanelMessage, PanelBooks, PanelRecords, PanelPending, PanelUsers}

// Nav is the login/logout bar.
type Nav struct {
	Text    string
	Actions []Action
}

// MessageKind is the style of a banner.
type MessageKind string

const (
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

// Banner is the transient status message. An empty Text means cleared.
type Banner struct {
	Text    string
	Kind    MessageKind
	Expires time.Time
}

// Active reports whether the banner should still be shown at now.
func (b Banner) Active(now time.Time) bool {
	return b.Text != "" && now.Before(b.Expires)
}

// Fragment is one rendered region. Hidden fragments replace whatever the
// panel showed before.
type Fragment struct {
	Panel  Panel
	Title  string
	Hidden bool
	Table  *Table
	Nav    *Nav
	Banner *Banner
}

// Visibility says which sections a session may see.
type Visibility struct {
	AdminSection    bool
	MemberSection   bool
	BorrowedSection bool
	AllUsersLabel   bool
}

// VisibilityFor derives section visibility from the session.
func VisibilityFor(s Session) Visibility {
	return Visibility{
		AdminSection:    s.IsAdmin(),
		MemberSection:   s.LoggedIn && !s.IsAdmin(),
		BorrowedSection: s.LoggedIn,
		AllUsersLabel:   s.IsAdmin(),
	}
}

// NavFor builds the nav bar for the session.
func NavFor(s Session) Nav {
	if !s.LoggedIn {
		return Nav{
			Text: "Not logged in.",
			Actions: []Action{
				{Kind: ActionLogin, Label: "Login"},
				{Kind: ActionRegister, Label: "Register"},
			},
		}
	}
	return Nav{
		Text: fmt.Sprintf("Welcome, %s (%s)!", s.Username, s.Role),
		Actions: []Action{
			{Kind: ActionChangePassword, Label: "Change Password"},
			{Kind: ActionLogout, Label: "Logout"},
		},
	}
}

// BookTable lists books in server order; admins get edit/delete actions.
func BookTable(books []Book, s Session) Table {
	t := Table{
		Headers:    []string{"Title", "Author", "ISBN", "Total", "Available"},
		Empty:      "No books found.",
		HasActions: s.IsAdmin(),
	}
	if t.HasActions {
		t.Headers = append(t.Headers, "Actions")
	}
	for _, b := range books {
		row := Row{Cells: []string{
			b.Title,
			b.Author,
			b.ISBN,
			strconv.Itoa(b.Quantity),
			strconv.Itoa(b.AvailableQuantity),
		}}
		if t.HasActions {
			row.Actions = []Action{
				{Kind: ActionEditBook, Label: "Edit", Target: b.ID},
				{Kind: ActionDeleteBook, Label: "Delete", Target: b.ID},
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// UserTable lists approved users; the initial admin cannot be deleted.
func UserTable(users []User) Table {
	t := Table{
		Headers:    []string{"Username", "Role", "ID", "Actions"},
		Empty:      "No users found.",
		HasActions: true,
	}
	for _, u := range users {
		row := Row{Cells: []string{u.Username, string(u.Role), strconv.FormatInt(u.ID, 10)}}
		if u.IsInitialAdmin {
			row.Note = "Protected"
		} else {
			row.Actions = []Action{{Kind: ActionDeleteUser, Label: "Delete", Target: u.ID}}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// PendingTable lists accounts awaiting approval.
func PendingTable(users []PendingUser) Table {
	t := Table{
		Headers:    []string{"Username", "Actions"},
		Empty:      "No pending users.",
		HasActions: true,
	}
	for _, u := range users {
		t.Rows = append(t.Rows, Row{
			Cells: []string{u.Username},
			Actions: []Action{
				{Kind: ActionApproveUser, Label: "Approve", Target: u.ID},
				{Kind: ActionRejectUser, Label: "Reject", Target: u.ID},
			},
		})
	}
	return t
}

// RecordTable lists borrow records. Status and fine labels are derived here
// from the fetched data and now; nothing derived is kept.
func RecordTable(records []BorrowRecord, s Session, now time.Time, dateLayout string) Table {
	admin := s.IsAdmin()
	t := Table{Empty: "No borrowed records found.", HasActions: admin}
	if admin {
		t.Headers = append(t.Headers, "User")
	}
	t.Headers = append(t.Headers, "Book Title", "ISBN", "Borrow Date", "Due Date", "Return Date", "Status", "Fine")
	if admin {
		t.Headers = append(t.Headers, "Actions")
	}

	for _, r := range records {
		var cells []string
		if admin {
			user := r.Username
			if user == "" {
				user = "N/A"
			}
			cells = append(cells, user)
		}
		returned := "Not returned"
		if r.Returned() {
			returned = formatDate(r.ReturnDate.Time, dateLayout)
		}
		cells = append(cells,
			r.BookTitle,
			r.BookISBN,
			formatDate(r.BorrowDate.Time, dateLayout),
			formatDate(r.DueDate.Time, dateLayout),
			returned,
			string(r.Status(now)),
			r.FineLabel(),
		)

		row := Row{Cells: cells, Class: recordClass(r, now)}
		if admin {
			if !r.Returned() {
				row.Actions = append(row.Actions, Action{Kind: ActionMarkReturned, Label: "Mark Returned", Target: r.RecordID})
			}
			if r.FineStatus() == FineUnpaid {
				row.Actions = append(row.Actions, Action{Kind: ActionMarkFinePaid, Label: "Mark Fine Paid", Target: r.RecordID})
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func recordClass(r BorrowRecord, now time.Time) string {
	var classes []string
	if r.Overdue(now) {
		classes = append(classes, "overdue")
	}
	switch r.FineStatus() {
	case FinePaid:
		classes = append(classes, "fine-paid")
	case FineUnpaid:
		classes = append(classes, "fine-unpaid")
	}
	return strings.Join(classes, " ")
}

func formatDate(t time.Time, layout string) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(layout)
}

// Screen keeps the latest fragment of every panel.
type Screen struct {
	mu        sync.RWMutex
	fragments map[Panel]Fragment
}

func NewScreen() *Screen {
	return &Screen{fragments: make(map[Panel]Fragment)}
}

func (s *Screen) Set(f Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments[f.Panel] = f
}

func (s *Screen) Get(p Panel) (Fragment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fragments[p]
	return f, ok
}

// Snapshot returns the visible fragments in display order.
func (s *Screen) Snapshot() []Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fragment, 0, len(s.fragments))
	for _, p := range panelOrder {
		if f, ok := s.fragments[p]; ok && !f.Hidden {
			out = append(out, f)
		}
	}
	return out
}

// Actions returns every action currently offered on screen, sorted by kind
// and target.
func (s *Screen) Actions() []Action {
	var actions []Action
	for _, f := range s.Snapshot() {
		if f.Nav != nil {
			actions = append(actions, f.Nav.Actions...)
		}
		if f.Table != nil {
			for _, r := range f.Table.Rows {
				actions = append(actions, r.Actions...)
			}
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Kind != actions[j].Kind {
			return actions[i].Kind < actions[j].Kind
		}
		return actions[i].Target < actions[j].Target
	})
	return actions
}
