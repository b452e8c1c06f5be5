package prompt_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"miyu/internal/prompt"
)

func TestReadKeysReportsEveryEdit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		err   error
	}{
		{"typing", "abcd", []string{"a", "ab", "abc", "abcd"}, nil},
		{"backspace", "ab\x7fc", []string{"a", "ab", "a", "ac"}, nil},
		{"backspace on empty is ignored", "\x7f\x08a", []string{"a"}, nil},
		{"ctrl-u clears", "ab\x15c", []string{"a", "ab", "", "c"}, nil},
		{"ctrl-w erases word", "ab cd\x17", []string{"a", "ab", "ab ", "ab c", "ab cd", "ab "}, nil},
		{"arrow keys skipped", "a\x1b[Db", []string{"a", "ab"}, nil},
		{"unicode", "密语", []string{"密", "密语"}, nil},
		{"ctrl-d ends input", "a\x04b", []string{"a"}, nil},
		{"ctrl-c interrupts", "a\x03b", []string{"a"}, prompt.ErrInterrupted},
		{"enter does not change value", "ab\r\n", []string{"a", "ab"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := prompt.ReadKeys(context.Background(), strings.NewReader(tt.input), prompt.Field{}, func(v string) {
				got = append(got, v)
			}, nil)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("values %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadKeysMasksEcho(t *testing.T) {
	var out bytes.Buffer
	var submitted string
	err := prompt.ReadKeys(context.Background(), strings.NewReader("abc\r"), prompt.Field{Label: "pass: ", Mask: true, Out: &out}, nil, func(v string) {
		submitted = v
	})
	if err != nil {
		t.Fatalf("ReadKeys: %v", err)
	}
	if strings.Contains(out.String(), "abc") {
		t.Fatalf("masked field leaked value: %q", out.String())
	}
	if !strings.HasSuffix(out.String(), "pass: •••") {
		t.Fatalf("unexpected echo %q", out.String())
	}
	if submitted != "abc" {
		t.Fatalf("unexpected submit value %q", submitted)
	}
}

func TestReadKeysStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := prompt.ReadKeys(ctx, strings.NewReader("abc"), prompt.Field{}, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadLines(t *testing.T) {
	var got []string
	if err := prompt.ReadLines(context.Background(), strings.NewReader("ab\r\nabcd\n"), func(v string) { got = append(got, v) }); err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if strings.Join(got, "|") != "ab|abcd" {
		t.Fatalf("unexpected lines %q", got)
	}
}

func TestLineAndConfirm(t *testing.T) {
	var out bytes.Buffer
	r := bufio.NewReader(strings.NewReader("hello\nYes\nnope"))
	line, err := prompt.Line(r, &out, "Message: ")
	if err != nil || line != "hello" {
		t.Fatalf("Line = %q, %v", line, err)
	}
	ok, err := prompt.Confirm(r, &out, "Submit?")
	if err != nil || !ok {
		t.Fatalf("Confirm = %v, %v", ok, err)
	}
	ok, err = prompt.Confirm(r, &out, "Again?")
	if err != nil || ok {
		t.Fatalf("Confirm without newline = %v, %v", ok, err)
	}
	if !strings.Contains(out.String(), "Submit? [y/N] ") {
		t.Fatalf("unexpected prompt output %q", out.String())
	}
}
