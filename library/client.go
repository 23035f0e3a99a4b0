package library

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client calls the library backend over HTTP. The login session is a cookie
// held in an in-memory jar, so it lives exactly as long as the Client.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// ClientOptions configures NewClient. A zero Timeout means no timeout.
type ClientOptions struct {
	BaseURL    string
	APIPrefix  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// NewClient constructs a backend client.
func NewClient(opts ClientOptions) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: opts.Timeout, Jar: jar}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		prefix:     strings.TrimRight(opts.APIPrefix, "/"),
		httpClient: httpClient,
		log:        log,
	}, nil
}

// ------------------ Auth ------------------

// Status returns the backend's view of the current session.
func (c *Client) Status(ctx context.Context) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodGet, "/auth/status", nil, &s)
	return s, err
}

func (c *Client) Login(ctx context.Context, username, password string) (Result, error) {
	body := map[string]string{"username": username, "password": password}
	return c.mutate(ctx, http.MethodPost, "/auth/login", body)
}

func (c *Client) Logout(ctx context.Context) (Result, error) {
	return c.mutate(ctx, http.MethodPost, "/auth/logout", nil)
}

// RegisterRequest creates an account. Role is only honored for admin sessions;
// anonymous registrations land in the pending queue.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (Result, error) {
	return c.mutate(ctx, http.MethodPost, "/auth/register", req)
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) (Result, error) {
	body := map[string]string{"current_password": current, "new_password": next}
	return c.mutate(ctx, http.MethodPost, "/auth/change-password", body)
}

// ------------------ Users ------------------

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := c.do(ctx, http.MethodGet, "/users", nil, &users)
	return users, err
}

func (c *Client) ListPendingUsers(ctx context.Context) ([]PendingUser, error) {
	var users []PendingUser
	err := c.do(ctx, http.MethodGet, "/users/pending", nil, &users)
	return users, err
}

func (c *Client) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &u)
	return u, err
}

func (c *Client) ApproveUser(ctx context.Context, id int64) (Result, error) {
	return c.mutate(ctx, http.MethodPost, fmt.Sprintf("/users/%d/approve", id), nil)
}

func (c *Client) RejectUser(ctx context.Context, id int64) (Result, error) {
	return c.mutate(ctx, http.MethodPost, fmt.Sprintf("/users/%d/reject", id), nil)
}

func (c *Client) DeleteUser(ctx context.Context, id int64) (Result, error) {
	return c.mutate(ctx, http.MethodDelete, fmt.Sprintf("/users/%d/delete", id), nil)
}

// ------------------ Books ------------------

func (c *Client) ListBooks(ctx context.Context) ([]Book, error) {
	var books []Book
	err := c.do(ctx, http.MethodGet, "/books", nil, &books)
	return books, err
}

func (c *Client) SearchBooks(ctx context.Context, q string) ([]Book, error) {
	var books []Book
	path := "/books/search?" + url.Values{"q": {q}}.Encode()
	err := c.do(ctx, http.MethodGet, path, nil, &books)
	return books, err
}

func (c *Client) AddBook(ctx context.Context, in BookInput) (Result, error) {
	return c.mutate(ctx, http.MethodPost, "/books", in)
}

func (c *Client) UpdateBook(ctx context.Context, id int64, in BookInput) (Result, error) {
	return c.mutate(ctx, http.MethodPut, fmt.Sprintf("/books/%d", id), in)
}

func (c *Client) DeleteBook(ctx context.Context, id int64) (Result, error) {
	return c.mutate(ctx, http.MethodDelete, fmt.Sprintf("/books/%d", id), nil)
}

// ------------------ Circulation ------------------

type isbnRequest struct {
	BookISBN string `json:"book_isbn"`
}

func (c *Client) Borrow(ctx context.Context, isbn string) (Result, error) {
	return c.mutate(ctx, http.MethodPost, "/borrow", isbnRequest{BookISBN: isbn})
}

func (c *Client) Return(ctx context.Context, isbn string) (Result, error) {
	return c.mutate(ctx, http.MethodPost, "/return", isbnRequest{BookISBN: isbn})
}

// ListBorrowed returns the caller's records, or every record for admins.
func (c *Client) ListBorrowed(ctx context.Context) ([]BorrowRecord, error) {
	var records []BorrowRecord
	err := c.do(ctx, http.MethodGet, "/borrowed", nil, &records)
	return records, err
}

func (c *Client) AdminReturn(ctx context.Context, recordID int64) (Result, error) {
	return c.mutate(ctx, http.MethodPost, fmt.Sprintf("/borrowed/%d/admin-return", recordID), nil)
}

func (c *Client) PayFine(ctx context.Context, recordID int64) (Result, error) {
	return c.mutate(ctx, http.MethodPost, fmt.Sprintf("/borrowed-records/%d/pay-fine", recordID), nil)
}

// ------------------ Transport ------------------

func (c *Client) mutate(ctx context.Context, method, path string, in any) (Result, error) {
	var res Result
	err := c.do(ctx, method, path, in, &res)
	return res, err
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + c.prefix + path
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	log := c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	log.WithField("status", resp.StatusCode).Debug("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &errResp)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(errResp.Error)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
