package command

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID returns a process-unique command identifier of the form
// cmd_<unix timestamp>_<8 hex chars>. Used by the queue for commands
// submitted without an id.
func GenerateID() (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return fmt.Sprintf("cmd_%010d_%s", time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}
