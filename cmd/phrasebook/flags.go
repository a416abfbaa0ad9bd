package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/at-ishikawa/phrasebook/internal/cli"
	"github.com/at-ishikawa/phrasebook/internal/quiz"
)

// FormatFlag selects how listings are printed.
type FormatFlag cli.Format

// Set implements pflag.Value.
func (f *FormatFlag) Set(v string) error {
	switch cli.Format(v) {
	case cli.FormatTable, cli.FormatYAML, cli.FormatJSON:
		*f = FormatFlag(v)
		return nil
	}
	return fmt.Errorf("invalid value %q, valid values are %q, %q or %q", v, cli.FormatTable, cli.FormatYAML, cli.FormatJSON)
}

// String implements pflag.Value.
func (f *FormatFlag) String() string {
	if f == nil {
		return ""
	}
	return string(*f)
}

// Type implements pflag.Value.
func (f *FormatFlag) Type() string {
	return "FormatFlag"
}

// KindFlag selects the question kind of a review. Empty means self-rated flashcards.
type KindFlag quiz.Kind

// Set implements pflag.Value.
func (k *KindFlag) Set(v string) error {
	switch quiz.Kind(v) {
	case "", quiz.KindCloze, quiz.KindInterpretation, quiz.KindListening, quiz.KindReverse:
		*k = KindFlag(v)
		return nil
	}
	return fmt.Errorf("invalid value %q, valid values are %q, %q, %q or %q",
		v, quiz.KindCloze, quiz.KindInterpretation, quiz.KindListening, quiz.KindReverse)
}

// String implements pflag.Value.
func (k *KindFlag) String() string {
	if k == nil {
		return ""
	}
	return string(*k)
}

// Type implements pflag.Value.
func (k *KindFlag) Type() string {
	return "KindFlag"
}

var (
	_ pflag.Value = (*FormatFlag)(nil)
	_ pflag.Value = (*KindFlag)(nil)
)
