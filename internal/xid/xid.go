package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// New returns a locally unique id for records created on the device,
// formatted as {kind}_{unix millis}_{random}.
func New(kind string) string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s_%d_%d", kind, time.Now().UnixMilli(), time.Now().UnixNano()%1e9)
	}
	return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// IsLocal reports whether id was produced by New for kind.
func IsLocal(kind, id string) bool {
	return strings.HasPrefix(id, kind+"_")
}
