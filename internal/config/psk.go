package config

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptPSK reads a PSK from the controlling terminal with echo disabled,
// the same hidden-input pattern this codebase's scrypto.GetSecurePassword
// used for its image password, adapted here for the transport's
// pre-shared key rather than a steganography passphrase.
func PromptPSK(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("config: reading psk: %w", err)
	}
	if len(bytes) == 0 {
		return "", fmt.Errorf("config: psk must not be empty")
	}
	return string(bytes), nil
}
