package syncpeer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// randomId returns a session-scoped id of the form "<prefix><16 hex
// chars>", matching spec.md §4.6's `random("f_")`/`random("sub_")` shape.
func randomId(prefix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("syncpeer: reading random id bytes: %v", err))
	}
	return prefix + hex.EncodeToString(b[:])
}
