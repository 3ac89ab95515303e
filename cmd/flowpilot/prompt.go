package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/tracker"
)

var errNoOptions = errors.New("prompt offers no options")

// Asker collects the user's answer to a pending prompt.
type Asker interface {
	Ask(prompt tracker.Prompt) (any, error)
}

// formAsker renders prompts as interactive terminal forms.
type formAsker struct{}

func (formAsker) Ask(prompt tracker.Prompt) (any, error) {
	switch prompt.Type {
	case models.PromptTypeConfirm:
		var confirmed bool

		err := huh.NewConfirm().
			Title(prompt.Message).
			Affirmative(confirmLabel(prompt.Options, 0, "Yes")).
			Negative(confirmLabel(prompt.Options, 1, "No")).
			Value(&confirmed).
			WithTheme(huh.ThemeCharm()).
			Run()
		if err != nil {
			return nil, err
		}

		return confirmAnswer(prompt.Options, confirmed), nil

	case models.PromptTypeSelect:
		if len(prompt.Options) == 0 {
			return nil, errNoOptions
		}

		options := make([]huh.Option[int], len(prompt.Options))
		for i, option := range prompt.Options {
			options[i] = huh.NewOption(optionLabel(option), i)
		}

		var selected int

		err := huh.NewSelect[int]().
			Title(prompt.Message).
			Options(options...).
			Value(&selected).
			WithTheme(huh.ThemeCharm()).
			Run()
		if err != nil {
			return nil, err
		}

		return selectAnswer(prompt.Options, selected)

	default:
		var text string

		err := huh.NewInput().
			Title(prompt.Message).
			Value(&text).
			WithTheme(huh.ThemeCharm()).
			Run()
		if err != nil {
			return nil, err
		}

		return text, nil
	}
}

// confirmAnswer sends the first option's value for yes and the second for no.
// Without two options the answer is the boolean itself.
func confirmAnswer(options []models.PromptOption, confirmed bool) any {
	if len(options) < 2 {
		return confirmed
	}

	if confirmed {
		return options[0].Value
	}

	return options[1].Value
}

func confirmLabel(options []models.PromptOption, index int, fallback string) string {
	if len(options) < 2 || options[index].Label == "" {
		return fallback
	}

	return options[index].Label
}

func selectAnswer(options []models.PromptOption, index int) (any, error) {
	if index < 0 || index >= len(options) {
		return nil, fmt.Errorf("option %d out of range", index)
	}

	return options[index].Value, nil
}

func optionLabel(option models.PromptOption) string {
	if option.Label != "" {
		return option.Label
	}

	return fmt.Sprint(option.Value)
}
