// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pkg/errors"
)

// promptValue returns current when set, otherwise asks for it. Secret values
// are read without echo. Outside a terminal a missing value is an error.
func promptValue(current, message string, secret bool) (string, error) {
	if current != "" {
		return current, nil
	}
	if err := RequiresTTY("prompt for " + strings.ToLower(message)); err != nil {
		return "", err
	}

	var answer string
	var prompt survey.Prompt = &survey.Input{Message: message + ":"}
	if secret {
		prompt = &survey.Password{Message: message + ":"}
	}
	if err := survey.AskOne(prompt, &answer, survey.WithValidator(survey.Required)); err != nil {
		return "", errors.Wrap(err, "prompt")
	}
	return strings.TrimSpace(answer), nil
}

// promptPassword reads a password from the flag, then FINCHAT_PASSWORD,
// then the terminal.
func promptPassword(current, message string) (string, error) {
	if current == "" {
		current = os.Getenv("FINCHAT_PASSWORD")
	}
	return promptValue(current, message, true)
}

// confirm asks a yes/no question. assumeYes skips the prompt.
func confirm(question string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if err := RequiresTTY("confirm"); err != nil {
		return false, err
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: question}, &ok); err != nil {
		return false, errors.Wrap(err, "prompt")
	}
	return ok, nil
}
