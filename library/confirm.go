package library

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
)

// Confirmer asks the user a yes/no question. Confirm blocks only the calling
// action; other actions keep running while the question is open.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// PromptConfirmer asks through an interactive promptui prompt. The prompt
// closes its input when it returns, so Stdin opens a fresh reader per question;
// pair it with SharedInput when the shell reads the same terminal. Nil streams
// default to the process stdin/stdout.
type PromptConfirmer struct {
	Stdin  func() io.ReadCloser
	Stdout io.WriteCloser
}

func (p PromptConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	prompt := promptui.Prompt{
		Label:     question,
		IsConfirm: true,
		Stdout:    p.Stdout,
	}
	if p.Stdin != nil {
		prompt.Stdin = p.Stdin()
	}
	_, err := prompt.Run()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	return false, fmt.Errorf("confirm prompt: %w", err)
}

// ScannerConfirmer reads the answer from a line scanner. It is used when input
// is not a terminal, and shares the shell's scanner so no input is lost.
type ScannerConfirmer struct {
	Scanner *bufio.Scanner
	Out     io.Writer
}

func (s ScannerConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(s.Out, "%s [y/N]: ", question)
	if !s.Scanner.Scan() {
		if err := s.Scanner.Err(); err != nil {
			return false, err
		}
		return false, io.EOF
	}
	switch strings.ToLower(strings.TrimSpace(s.Scanner.Text())) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
