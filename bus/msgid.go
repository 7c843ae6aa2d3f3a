package bus

import (
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/quizflow/types"
)

// MsgID returns the deduplication id of ev: an xxh3 hash of its subject, entity
// id, entity version and attempt. Two publishes of the same logical event share
// an id; any change to version or attempt yields a new one.
func MsgID(ev types.Event) string {
	h := xxh3.New()
	_, _ = h.WriteString(ev.Subject())
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(ev.EntityID())
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatInt(ev.EntityVersion(), 10))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.Itoa(ev.AttemptNumber()))

	return strconv.FormatUint(h.Sum64(), 16)
}
