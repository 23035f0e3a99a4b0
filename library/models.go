package library

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role is the account role reported by the backend.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Session is the client-side record of the current login identity and role.
type Session struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether admin-only panels and requests are allowed.
func (s Session) IsAdmin() bool { return s.LoggedIn && s.Role == RoleAdmin }

// Book is a read copy of a catalog entry. The server owns the data; the client
// keeps only the result of the last list or search.
type Book struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Author            string `json:"author"`
	ISBN              string `json:"isbn"`
	Quantity          int    `json:"quantity"`
	AvailableQuantity int    `json:"available_quantity"`
}

// BookInput is the body of add and edit requests.
type BookInput struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Quantity int    `json:"quantity"`
}

// Validate runs the form checks done before a book is submitted.
func (in BookInput) Validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return &ValidationError{Message: "Title is required."}
	case strings.TrimSpace(in.Author) == "":
		return &ValidationError{Message: "Author is required."}
	case strings.TrimSpace(in.ISBN) == "":
		return &ValidationError{Message: "ISBN is required."}
	case in.Quantity < 0:
		return &ValidationError{Message: "Quantity cannot be negative."}
	}
	return nil
}

// User is an approved account as listed for admins.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Role           Role   `json:"role"`
	IsInitialAdmin Flag   `json:"is_initial_admin"`
}

// PendingUser is a registered account awaiting admin approval.
type PendingUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// BorrowRecord is one loan of a book copy. Username is only sent to admins.
type BorrowRecord struct {
	RecordID   int64      `json:"record_id"`
	BookTitle  string     `json:"book_title"`
	BookISBN   string     `json:"book_isbn"`
	Username   string     `json:"username,omitempty"`
	BorrowDate Timestamp  `json:"borrow_date"`
	DueDate    Timestamp  `json:"due_date"`
	ReturnDate *Timestamp `json:"return_date"`
	FineAmount Money      `json:"fine_amount"`
	FinePaid   Flag       `json:"fine_paid"`
}

// RecordStatus is the display status of a borrow record.
type RecordStatus string

const (
	StatusBorrowed RecordStatus = "Borrowed"
	StatusOverdue  RecordStatus = "Overdue"
	StatusReturned RecordStatus = "Returned"
)

// FineStatus is the display status of a record's fine.
type FineStatus string

const (
	FineNone   FineStatus = "No fine"
	FineUnpaid FineStatus = "Unpaid"
	FinePaid   FineStatus = "Paid"
)

// Returned reports whether the record has a return date.
func (r BorrowRecord) Returned() bool {
	return r.ReturnDate != nil && !r.ReturnDate.IsZero()
}

// Overdue is computed at render time and never stored.
func (r BorrowRecord) Overdue(now time.Time) bool {
	return !r.Returned() && !r.DueDate.IsZero() && r.DueDate.Before(now)
}

// Status derives the record status as seen at now.
func (r BorrowRecord) Status(now time.Time) RecordStatus {
	switch {
	case r.Returned():
		return StatusReturned
	case r.Overdue(now):
		return StatusOverdue
	default:
		return StatusBorrowed
	}
}

// FineStatus derives the fine label from the amount and paid flag.
func (r BorrowRecord) FineStatus() FineStatus {
	switch {
	case r.FineAmount <= 0:
		return FineNone
	case bool(r.FinePaid):
		return FinePaid
	default:
		return FineUnpaid
	}
}

// FineLabel is the text shown in the fine column.
func (r BorrowRecord) FineLabel() string {
	status := r.FineStatus()
	if status == FineNone {
		return string(FineNone)
	}
	return fmt.Sprintf("%s (%s)", r.FineAmount, status)
}

// Result is the body of a successful mutating call.
type Result struct {
	Message string `json:"message"`
	Fine    Money  `json:"fine"`
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// timestampLayouts lists the formats the backend has been seen to emit:
// Flask's jsonify (RFC1123), ISO 8601, and raw MySQL DATETIME strings.
var timestampLayouts = []string{
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp accepts any of timestampLayouts; null and "" decode to the zero time.
// Layouts without a zone are read in local time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", raw)
}

// Money is a currency amount. The backend serializes DECIMAL columns as
// strings, so both "0.50" and 0.5 are accepted.
type Money float64

func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = Money(v)
	return nil
}

func (m Money) String() string { return fmt.Sprintf("$%.2f", float64(m)) }

// Flag is a boolean that also accepts MySQL TINYINT values (0/1).
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("flag: unexpected value %s", data)
	}
	return nil
}
