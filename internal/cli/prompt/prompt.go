// Package prompt asks questions on the terminal.
//
// Commands depend on the Prompter interface; Terminal implements it with
// promptui, and tests substitute a scripted implementation.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user gave up on a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Option is one entry of a selection list.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Prompter asks one question at a time.
type Prompter interface {
	// Confirm asks a yes/no question; an empty answer picks defaultYes.
	Confirm(label string, defaultYes bool) (bool, error)

	// Input asks for text, prefilled with def. validate may be nil.
	Input(label, def string, validate func(string) error) (string, error)

	// Secret asks for text without echoing it.
	Secret(label string) (string, error)

	// Select returns the Value of the chosen option.
	Select(label string, options []Option) (string, error)
}

// Interactive reports whether stdin and stdout are both terminals.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Terminal prompts on the controlling terminal.
type Terminal struct{}

var _ Prompter = Terminal{}

func (Terminal) Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s [%s]", label, hint),
		Validate: func(s string) error {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "", "y", "yes", "n", "no":
				return nil
			}
			return errors.New("answer y or n")
		},
	}
	result, err := p.Run()
	if err != nil {
		return false, wrapError(err)
	}
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (Terminal) Input(label, def string, validate func(string) error) (string, error) {
	p := promptui.Prompt{Label: label, Default: def, AllowEdit: true}
	if validate != nil {
		p.Validate = validate
	}
	result, err := p.Run()
	return strings.TrimSpace(result), wrapError(err)
}

func (Terminal) Secret(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}

func (Terminal) Select(label string, options []Option) (string, error) {
	if len(options) == 0 {
		return "", errors.New("prompt: no options to select from")
	}
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "* {{ .Label | green }}",
	}
	if options[0].Description != "" {
		templates.Details = `
{{ "Description:" | faint }}	{{ .Description }}`
	}

	p := promptui.Select{Label: label, Items: options, Templates: templates, Size: 10}
	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}
