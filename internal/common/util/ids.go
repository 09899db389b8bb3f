package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var (
	entropyLock sync.Mutex
	entropy     = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewRunId returns a lower case ULID. Ids created by one process sort in creation order.
func NewRunId() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// RunIdTime extracts the creation time encoded in a run id.
func RunIdTime(runId string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(strings.ToUpper(runId))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func NewTaskUuid() string {
	return uuid.NewString()
}
