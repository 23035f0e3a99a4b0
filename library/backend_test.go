package library

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

const sessionCookie = "session"

type fakeAccount struct {
	ID        int64
	Username  string
	Password  string
	Role      Role
	Approved  bool
	IsInitial bool
}

type fakeRecord struct {
	ID         int64
	Username   string
	Title      string
	ISBN       string
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Fine       float64
	FinePaid   bool
}

// fakeBackend is an in-memory library server speaking the same JSON the real
// backend does: RFC1123 dates, DECIMAL fines as strings and TINYINT flags.
type fakeBackend struct {
	mu       sync.Mutex
	reqs     []string
	accounts []*fakeAccount
	books    []*Book
	records  []*fakeRecord
	nextID   int64
	failures map[string]int
	holds    map[string]*fakeHold
	now      time.Time
	srv      *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{failures: make(map[string]int), holds: make(map[string]*fakeHold), now: testNow}
	b.addAccount("admin", "admin123", RoleAdmin, true)
	b.accounts[0].IsInitial = true

	r := chi.NewRouter()
	r.Use(b.middleware)
	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/status", b.status)
		r.Post("/auth/login", b.login)
		r.Post("/auth/logout", b.logout)
		r.Post("/auth/register", b.register)
		r.Post("/auth/change-password", b.changePassword)

		r.Get("/users", b.admin(b.listUsers))
		r.Get("/users/pending", b.admin(b.listPending))
		r.Get("/users/{id}", b.admin(b.getUser))
		r.Post("/users/{id}/approve", b.admin(b.approve))
		r.Post("/users/{id}/reject", b.admin(b.reject))
		r.Delete("/users/{id}/delete", b.admin(b.deleteUser))

		r.Get("/books", b.member(b.listBooks))
		r.Get("/books/search", b.member(b.searchBooks))
		r.Post("/books", b.admin(b.createBook))
		r.Put("/books/{id}", b.admin(b.updateBook))
		r.Delete("/books/{id}", b.admin(b.deleteBook))

		r.Post("/borrow", b.member(b.borrow))
		r.Post("/return", b.member(b.giveBack))
		r.Get("/borrowed", b.member(b.listBorrowed))
		r.Post("/borrowed/{id}/admin-return", b.admin(b.adminReturn))
		r.Post("/borrowed-records/{id}/pay-fine", b.admin(b.payFine))
	})

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

// newTestClient builds a client against the fake with logging discarded.
func newTestClient(t *testing.T, b *fakeBackend) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{BaseURL: b.srv.URL, APIPrefix: "/api", Logger: quietLogger()})
	require.NoError(t, err)
	return c
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// ------------------ Seeding and inspection ------------------

func (b *fakeBackend) addAccount(username, password string, role Role, approved bool) *fakeAccount {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	a := &fakeAccount{ID: b.nextID, Username: username, Password: password, Role: role, Approved: approved}
	b.accounts = append(b.accounts, a)
	return a
}

func (b *fakeBackend) addBook(title, author, isbn string, qty int) *Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	bk := &Book{ID: b.nextID, Title: title, Author: author, ISBN: isbn, Quantity: qty, AvailableQuantity: qty}
	b.books = append(b.books, bk)
	return bk
}

func (b *fakeBackend) addRecord(rec fakeRecord) *fakeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	rec.ID = b.nextID
	b.records = append(b.records, &rec)
	return &rec
}

// fail makes the route answer with status until cleared with status 0.
func (b *fakeBackend) fail(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.failures, route)
		return
	}
	b.failures[route] = status
}

// fakeHold parks one request on a route until released.
type fakeHold struct {
	arrived chan struct{}
	release chan struct{}
}

// hold makes the next request on route wait before it is served. The returned
// channel closes once that request has arrived; release lets it through.
func (b *fakeBackend) hold(route string) (arrived <-chan struct{}, release func()) {
	h := &fakeHold{arrived: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	b.holds[route] = h
	b.mu.Unlock()
	var once sync.Once
	return h.arrived, func() { once.Do(func() { close(h.release) }) }
}

func (b *fakeBackend) requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.reqs...)
}

func (b *fakeBackend) resetRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = nil
}

func (b *fakeBackend) count(req string) int {
	n := 0
	for _, r := range b.requests() {
		if r == req {
			n++
		}
	}
	return n
}

func (b *fakeBackend) book(isbn string) *Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bookLocked(isbn)
}

func (b *fakeBackend) bookLocked(isbn string) *Book {
	for _, bk := range b.books {
		if bk.ISBN == isbn {
			return bk
		}
	}
	return nil
}

// ------------------ Middleware ------------------

func (b *fakeBackend) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.reqs = append(b.reqs, r.Method+" "+r.URL.RequestURI())
		route := r.Method + " " + r.URL.Path
		status := b.failures[route]
		h := b.holds[route]
		delete(b.holds, route)
		b.mu.Unlock()
		if h != nil {
			close(h.arrived)
			<-h.release
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) current(r *http.Request) *fakeAccount {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	for _, a := range b.accounts {
		if a.Username == c.Value && a.Approved {
			return a
		}
	}
	return nil
}

type fakeHandler func(w http.ResponseWriter, r *http.Request, who *fakeAccount)

func (b *fakeBackend) member(h fakeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		who := b.current(r)
		if who == nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("Authentication required"))
			return
		}
		h(w, r, who)
	}
}

func (b *fakeBackend) admin(h fakeHandler) http.HandlerFunc {
	return b.member(func(w http.ResponseWriter, r *http.Request, who *fakeAccount) {
		if who.Role != RoleAdmin {
			writeJSON(w, http.StatusForbidden, errorBody("Admin access required"))
			return
		}
		h(w, r, who)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string   { return map[string]string{"error": msg} }
func messageBody(msg string) map[string]string { return map[string]string{"message": msg} }

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

func flaskTime(t time.Time) string { return t.UTC().Format(http.TimeFormat) }

func tinyint(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ------------------ Auth ------------------

func (b *fakeBackend) status(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	who := b.current(r)
	if who == nil {
		writeJSON(w, http.StatusOK, map[string]any{"logged_in": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logged_in": true, "username": who.Username, "role": who.Role})
}

func (b *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var body struct{ Username, Password string }
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.accounts {
		if a.Username != body.Username || a.Password != body.Password {
			continue
		}
		if !a.Approved {
			writeJSON(w, http.StatusForbidden, errorBody("Account pending approval"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: a.Username, Path: "/"})
		writeJSON(w, http.StatusOK, messageBody("Login successful"))
		return
	}
	writeJSON(w, http.StatusUnauthorized, errorBody("Invalid credentials"))
}

func (b *fakeBackend) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, messageBody("Logged out successfully"))
}

func (b *fakeBackend) register(w http.ResponseWriter, r *http.Request) {
	var body RegisterRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.accounts {
		if a.Username == body.Username {
			writeJSON(w, http.StatusConflict, errorBody("Username already exists"))
			return
		}
	}
	who := b.current(r)
	b.nextID++
	a := &fakeAccount{ID: b.nextID, Username: body.Username, Password: body.Password, Role: RoleMember}
	if who != nil && who.Role == RoleAdmin {
		a.Approved = true
		if body.Role != "" {
			a.Role = body.Role
		}
	}
	b.accounts = append(b.accounts, a)
	writeJSON(w, http.StatusCreated, messageBody("Registration successful"))
}

func (b *fakeBackend) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Current string `json:"current_password"`
		Next    string `json:"new_password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	defer b.mu.Unlock()
	who := b.current(r)
	switch {
	case who == nil:
		writeJSON(w, http.StatusUnauthorized, errorBody("Authentication required"))
	case who.Password != body.Current:
		writeJSON(w, http.StatusBadRequest, errorBody("Current password is incorrect"))
	default:
		who.Password = body.Next
		writeJSON(w, http.StatusOK, messageBody("Password changed successfully"))
	}
}

// ------------------ Users ------------------

func userJSON(a *fakeAccount) map[string]any {
	return map[string]any{
		"id":               a.ID,
		"username":         a.Username,
		"role":             a.Role,
		"is_initial_admin": tinyint(a.IsInitial),
	}
}

func (b *fakeBackend) listUsers(w http.ResponseWriter, _ *http.Request, _ *fakeAccount) {
	out := []map[string]any{}
	for _, a := range b.accounts {
		if a.Approved {
			out = append(out, userJSON(a))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) listPending(w http.ResponseWriter, _ *http.Request, _ *fakeAccount) {
	out := []PendingUser{}
	for _, a := range b.accounts {
		if !a.Approved {
			out = append(out, PendingUser{ID: a.ID, Username: a.Username})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) account(id int64) *fakeAccount {
	for _, a := range b.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (b *fakeBackend) getUser(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	a := b.account(pathID(r))
	if a == nil {
		writeJSON(w, http.StatusNotFound, errorBody("User not found"))
		return
	}
	writeJSON(w, http.StatusOK, userJSON(a))
}

func (b *fakeBackend) approve(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	a := b.account(pathID(r))
	if a == nil || a.Approved {
		writeJSON(w, http.StatusNotFound, errorBody("Pending user not found"))
		return
	}
	a.Approved = true
	writeJSON(w, http.StatusOK, messageBody("User approved"))
}

func (b *fakeBackend) reject(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	id := pathID(r)
	b.removeAccount(id)
	writeJSON(w, http.StatusOK, messageBody("User rejected"))
}

func (b *fakeBackend) deleteUser(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	a := b.account(pathID(r))
	switch {
	case a == nil:
		writeJSON(w, http.StatusNotFound, errorBody("User not found"))
	case a.IsInitial:
		writeJSON(w, http.StatusForbidden, errorBody("Cannot delete the initial admin user"))
	default:
		b.removeAccount(a.ID)
		kept := b.records[:0]
		for _, rec := range b.records {
			if rec.Username != a.Username {
				kept = append(kept, rec)
			}
		}
		b.records = kept
		writeJSON(w, http.StatusOK, messageBody("User deleted"))
	}
}

func (b *fakeBackend) removeAccount(id int64) {
	kept := b.accounts[:0]
	for _, a := range b.accounts {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	b.accounts = kept
}

// ------------------ Books ------------------

func (b *fakeBackend) bookList(match func(*Book) bool) []Book {
	out := []Book{}
	for _, bk := range b.books {
		if match(bk) {
			out = append(out, *bk)
		}
	}
	return out
}

func (b *fakeBackend) listBooks(w http.ResponseWriter, _ *http.Request, _ *fakeAccount) {
	writeJSON(w, http.StatusOK, b.bookList(func(*Book) bool { return true }))
}

func (b *fakeBackend) searchBooks(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, b.bookList(func(bk *Book) bool {
		return strings.Contains(strings.ToLower(bk.Title), q) ||
			strings.Contains(strings.ToLower(bk.Author), q) ||
			strings.Contains(strings.ToLower(bk.ISBN), q)
	}))
}

func (b *fakeBackend) createBook(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	var in BookInput
	_ = json.NewDecoder(r.Body).Decode(&in)
	if b.bookLocked(in.ISBN) != nil {
		writeJSON(w, http.StatusConflict, errorBody("Book with this ISBN already exists"))
		return
	}
	b.nextID++
	b.books = append(b.books, &Book{
		ID: b.nextID, Title: in.Title, Author: in.Author, ISBN: in.ISBN,
		Quantity: in.Quantity, AvailableQuantity: in.Quantity,
	})
	writeJSON(w, http.StatusCreated, messageBody("Book added successfully"))
}

func (b *fakeBackend) updateBook(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	var in BookInput
	_ = json.NewDecoder(r.Body).Decode(&in)
	id := pathID(r)
	for _, bk := range b.books {
		if bk.ID != id {
			continue
		}
		onLoan := bk.Quantity - bk.AvailableQuantity
		bk.Title, bk.Author, bk.ISBN = in.Title, in.Author, in.ISBN
		bk.Quantity, bk.AvailableQuantity = in.Quantity, in.Quantity-onLoan
		writeJSON(w, http.StatusOK, messageBody("Book updated successfully"))
		return
	}
	writeJSON(w, http.StatusNotFound, errorBody("Book not found"))
}

func (b *fakeBackend) deleteBook(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	id := pathID(r)
	var isbn string
	kept := b.books[:0]
	for _, bk := range b.books {
		if bk.ID == id {
			isbn = bk.ISBN
			continue
		}
		kept = append(kept, bk)
	}
	b.books = kept
	if isbn == "" {
		writeJSON(w, http.StatusNotFound, errorBody("Book not found"))
		return
	}
	records := b.records[:0]
	for _, rec := range b.records {
		if rec.ISBN != isbn {
			records = append(records, rec)
		}
	}
	b.records = records
	writeJSON(w, http.StatusOK, messageBody("Book deleted successfully"))
}

// ------------------ Circulation ------------------

func (b *fakeBackend) borrow(w http.ResponseWriter, r *http.Request, who *fakeAccount) {
	var in isbnRequest
	_ = json.NewDecoder(r.Body).Decode(&in)
	bk := b.bookLocked(in.BookISBN)
	switch {
	case bk == nil:
		writeJSON(w, http.StatusNotFound, errorBody("Book not found"))
		return
	case bk.AvailableQuantity <= 0:
		writeJSON(w, http.StatusBadRequest, errorBody("Book not available"))
		return
	}
	bk.AvailableQuantity--
	b.nextID++
	b.records = append(b.records, &fakeRecord{
		ID: b.nextID, Username: who.Username, Title: bk.Title, ISBN: bk.ISBN,
		BorrowDate: b.now, DueDate: b.now.AddDate(0, 0, 14),
	})
	writeJSON(w, http.StatusOK, messageBody("Book borrowed successfully"))
}

func (b *fakeBackend) closeRecord(rec *fakeRecord) float64 {
	ret := b.now
	rec.ReturnDate = &ret
	if days := int(b.now.Sub(rec.DueDate).Hours() / 24); days > 0 {
		rec.Fine = float64(days) * 0.5
	}
	if bk := b.bookLocked(rec.ISBN); bk != nil {
		bk.AvailableQuantity++
	}
	return rec.Fine
}

func (b *fakeBackend) giveBack(w http.ResponseWriter, r *http.Request, who *fakeAccount) {
	var in isbnRequest
	_ = json.NewDecoder(r.Body).Decode(&in)
	for _, rec := range b.records {
		if rec.Username == who.Username && rec.ISBN == in.BookISBN && rec.ReturnDate == nil {
			fine := b.closeRecord(rec)
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "Book returned successfully.",
				"fine":    fmt.Sprintf("%.2f", fine),
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorBody("No active borrow record found"))
}

func (b *fakeBackend) recordJSON(rec *fakeRecord, admin bool) map[string]any {
	m := map[string]any{
		"record_id":   rec.ID,
		"book_title":  rec.Title,
		"book_isbn":   rec.ISBN,
		"borrow_date": flaskTime(rec.BorrowDate),
		"due_date":    flaskTime(rec.DueDate),
		"return_date": nil,
		"fine_amount": fmt.Sprintf("%.2f", rec.Fine),
		"fine_paid":   tinyint(rec.FinePaid),
	}
	if rec.ReturnDate != nil {
		m["return_date"] = flaskTime(*rec.ReturnDate)
	}
	if admin {
		m["username"] = rec.Username
	}
	return m
}

func (b *fakeBackend) listBorrowed(w http.ResponseWriter, _ *http.Request, who *fakeAccount) {
	admin := who.Role == RoleAdmin
	out := []map[string]any{}
	for _, rec := range b.records {
		if admin || rec.Username == who.Username {
			out = append(out, b.recordJSON(rec, admin))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) recordByID(id int64) *fakeRecord {
	for _, rec := range b.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (b *fakeBackend) adminReturn(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	rec := b.recordByID(pathID(r))
	switch {
	case rec == nil:
		writeJSON(w, http.StatusNotFound, errorBody("Record not found"))
	case rec.ReturnDate != nil:
		writeJSON(w, http.StatusBadRequest, errorBody("Book already returned"))
	default:
		b.closeRecord(rec)
		writeJSON(w, http.StatusOK, messageBody("Book marked as returned."))
	}
}

func (b *fakeBackend) payFine(w http.ResponseWriter, r *http.Request, _ *fakeAccount) {
	rec := b.recordByID(pathID(r))
	switch {
	case rec == nil:
		writeJSON(w, http.StatusNotFound, errorBody("Record not found"))
	case rec.Fine <= 0 || rec.FinePaid:
		writeJSON(w, http.StatusBadRequest, errorBody("No unpaid fine on this record"))
	default:
		rec.FinePaid = true
		writeJSON(w, http.StatusOK, messageBody("Fine marked as paid"))
	}
}
