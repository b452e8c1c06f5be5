// Package prompt reads passphrase keystrokes from the terminal.
//
// On a tty the terminal is switched to raw mode and the full field value is
// reported after every edit. Otherwise input is read line by line and each
// line is one value change.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"
)

// ErrInterrupted is returned when the user presses Ctrl-C in raw mode.
var ErrInterrupted = errors.New("input interrupted")

const (
	keyCtrlC     = 0x03
	keyCtrlD     = 0x04
	keyBackspace = 0x08
	keyCtrlU     = 0x15
	keyCtrlW     = 0x17
	keyEscape    = 0x1b
	keyDelete    = 0x7f
)

// Field renders the value being edited.
type Field struct {
	Label string
	Mask  bool
	Out   io.Writer
}

func (f Field) render(value []rune) {
	if f.Out == nil {
		return
	}
	shown := string(value)
	if f.Mask {
		shown = strings.Repeat("•", len(value))
	}
	_, _ = fmt.Fprintf(f.Out, "\r\x1b[K%s%s", f.Label, shown)
}

// ReadKeys decodes keystrokes from r and calls onChange with the full value
// after every edit. It returns nil on EOF or Ctrl-D, ErrInterrupted on Ctrl-C
// and ctx.Err() once ctx is done. Enter calls onSubmit when set.
func ReadKeys(ctx context.Context, r io.Reader, field Field, onChange func(string), onSubmit func(string)) error {
	br := bufio.NewReader(r)
	var value []rune
	field.render(value)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch, _, err := br.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		changed := false
		switch ch {
		case keyCtrlC:
			return ErrInterrupted
		case keyCtrlD:
			return nil
		case '\r', '\n':
			if onSubmit != nil {
				onSubmit(string(value))
			}
			continue
		case keyBackspace, keyDelete:
			if len(value) > 0 {
				value = value[:len(value)-1]
				changed = true
			}
		case keyCtrlU:
			if len(value) > 0 {
				value = value[:0]
				changed = true
			}
		case keyCtrlW:
			if n := wordStart(value); n != len(value) {
				value = value[:n]
				changed = true
			}
		case keyEscape:
			skipEscape(br)
		default:
			if unicode.IsPrint(ch) {
				value = append(value, ch)
				changed = true
			}
		}
		if changed {
			field.render(value)
			if onChange != nil {
				onChange(string(value))
			}
		}
	}
}

func wordStart(value []rune) int {
	i := len(value)
	for i > 0 && unicode.IsSpace(value[i-1]) {
		i--
	}
	for i > 0 && !unicode.IsSpace(value[i-1]) {
		i--
	}
	return i
}

// skipEscape consumes a CSI or SS3 sequence such as an arrow key.
func skipEscape(br *bufio.Reader) {
	next, err := br.ReadByte()
	if err != nil || (next != '[' && next != 'O') {
		if err == nil {
			_ = br.UnreadByte()
		}
		return
	}
	for {
		b, err := br.ReadByte()
		if err != nil || (b >= 0x40 && b <= 0x7e) {
			return
		}
	}
}

// ReadLines calls onLine for every line of r until EOF or ctx is done.
func ReadLines(ctx context.Context, r io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		onLine(strings.TrimRight(scanner.Text(), "\r"))
	}
	return scanner.Err()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Raw switches f to raw mode and returns a function restoring it.
func Raw(f *os.File) (func(), error) {
	state, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("enable raw mode: %w", err)
	}
	return func() { _ = term.Restore(int(f.Fd()), state) }, nil
}

// Watch reads the passphrase field from in. A terminal gets raw keystroke
// mode; anything else is read in line mode.
func Watch(ctx context.Context, in *os.File, out io.Writer, label string, onChange func(string)) error {
	if !IsTerminal(in) {
		return ReadLines(ctx, in, onChange)
	}
	restore, err := Raw(in)
	if err != nil {
		return err
	}
	defer func() {
		restore()
		if out != nil {
			_, _ = fmt.Fprintln(out)
		}
	}()
	return ReadKeys(ctx, in, Field{Label: label, Mask: true, Out: out}, onChange, nil)
}

// Line prints label and reads a single line.
func Line(r *bufio.Reader, out io.Writer, label string) (string, error) {
	if out != nil && label != "" {
		_, _ = fmt.Fprint(out, label)
	}
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Confirm asks a yes/no question; anything but y or yes is no.
func Confirm(r *bufio.Reader, out io.Writer, question string) (bool, error) {
	answer, err := Line(r, out, question+" [y/N] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
