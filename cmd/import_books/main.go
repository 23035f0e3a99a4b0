package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"library-console/config"
	"library-console/library"
	"library-console/logger"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile  string
	username string
	dryRun   bool
)

var rootCmd = &cobra.Command{
	Use:   "import_books <catalog.csv>",
	Short: "Bulk-add books to the library from a CSV catalog",
	Long: `Reads a CSV file with the columns title,author,isbn,quantity (a header
row is optional) and adds each book through the library API as an admin.
Rows that fail are reported and skipped.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := readCatalog(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Read %d book(s) from %s\n", len(rows), args[0])
		if dryRun {
			printCatalog(rows)
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return importBooks(cmd.Context(), cfg, rows)
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.Flags().StringVarP(&username, "user", "u", "admin", "admin username")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print the catalog without importing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// catalogRow is one parsed CSV line; Line is kept for error reports.
type catalogRow struct {
	Line int
	Book library.BookInput
}

func readCatalog(path string) ([]catalogRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return parseCatalog(f)
}

func parseCatalog(r io.Reader) ([]catalogRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var rows []catalogRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "title") {
			continue
		}
		qty, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid quantity %q", line, rec[3])
		}
		in := library.BookInput{
			Title:    strings.TrimSpace(rec[0]),
			Author:   strings.TrimSpace(rec[1]),
			ISBN:     strings.TrimSpace(rec[2]),
			Quantity: qty,
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, catalogRow{Line: line, Book: in})
	}
	return rows, nil
}

func importBooks(ctx context.Context, cfg *config.Config, rows []catalogRow) error {
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

	fmt.Printf("Enter password for %s: ", username)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	logout, err := adminSession(ctx, client, username, strings.TrimSpace(string(bytePassword)))
	defer logout()
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("Importing books"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	successCount := 0
	var failures []string
	for _, row := range rows {
		bar.Describe(truncateString(row.Book.Title, 30))
		if _, err := client.AddBook(ctx, row.Book); err != nil {
			failures = append(failures, fmt.Sprintf("line %d (%s): %v", row.Line, row.Book.ISBN, err))
		} else {
			successCount++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", len(failures))
	for _, f := range failures {
		fmt.Printf("  %s\n", f)
	}

	if successCount > 0 {
		books, err := client.ListBooks(ctx)
		if err != nil {
			fmt.Printf("Error retrieving books: %v\n", err)
			return nil
		}
		fmt.Println("\nCatalog:")
		printBooks(books)
	}
	return nil
}

// adminSession logs in and checks the account is an admin. The returned
// logout is safe to call whatever the error, and ends any session Login opened.
func adminSession(ctx context.Context, client *library.Client, user, password string) (func(), error) {
	if _, err := client.Login(ctx, user, password); err != nil {
		return func() {}, fmt.Errorf("login failed: %w", err)
	}
	logout := func() { _, _ = client.Logout(ctx) }

	s, err := client.Status(ctx)
	if err != nil {
		return logout, fmt.Errorf("checking session: %w", err)
	}
	if !s.IsAdmin() {
		return logout, library.ErrAdminRequired
	}
	return logout, nil
}

func printCatalog(rows []catalogRow) {
	fmt.Printf("%-5s %-40s %-25s %-15s %s\n", "Line", "Title", "Author", "ISBN", "Qty")
	fmt.Println(strings.Repeat("-", 95))
	for _, r := range rows {
		fmt.Printf("%-5d %-40s %-25s %-15s %d\n",
			r.Line,
			truncateString(r.Book.Title, 40),
			truncateString(r.Book.Author, 25),
			r.Book.ISBN,
			r.Book.Quantity)
	}
}

func printBooks(books []library.Book) {
	fmt.Printf("%-5s %-40s %-25s %-15s %s\n", "ID", "Title", "Author", "ISBN", "Available")
	fmt.Println(strings.Repeat("-", 100))
	for _, b := range books {
		fmt.Printf("%-5d %-40s %-25s %-15s %d/%d\n",
			b.ID,
			truncateString(b.Title, 40),
			truncateString(b.Author, 25),
			b.ISBN,
			b.AvailableQuantity,
			b.Quantity)
	}
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
