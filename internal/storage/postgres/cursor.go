package postgres

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// encodeCursor and parseCursorSeq encode a change_log sequence number as
// base64url(seq_<n>), the same change-feed cursor format the rest of the
// federation surface uses.
func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("seq_%d", seq)))
}

func parseCursorSeq(cursor string) (int64, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	value := string(decoded)
	if !strings.HasPrefix(value, "seq_") {
		return 0, fmt.Errorf("invalid cursor format")
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(value, "seq_"), 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid cursor sequence")
	}
	return seq, nil
}
