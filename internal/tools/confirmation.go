package tools

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/voxline-ai/voxline/internal/store"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I/L) so codes
// survive being read out over a phone line and typed back by support staff.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// codeLength is the fixed confirmation code length.
const codeLength = 6

// newConfirmationCode generates a random human-readable confirmation code.
// The code, not the LLM tool-call id, is the durable external reference for a
// completed booking or order.
func newConfirmationCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("tools: generate confirmation code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// codeAttempts bounds regeneration when a minted code collides with an
// existing record for the tenant.
const codeAttempts = 3

// persistWithCode mints a confirmation code and runs persist with it. A
// store.ErrDuplicateCode result mints a fresh code and tries again, so a
// collision with an earlier booking or order never reaches the caller.
// Collisions are vanishingly rare at this code length; the bound keeps a
// misbehaving store from looping forever.
func persistWithCode(persist func(code string) error) (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := newConfirmationCode()
		if err != nil {
			return "", err
		}
		switch err := persist(code); {
		case err == nil:
			return code, nil
		case !errors.Is(err, store.ErrDuplicateCode):
			return "", err
		}
	}
	return "", fmt.Errorf("tools: gave up after %d confirmation code collisions", codeAttempts)
}
