package types

import (
	"time"
)

type Guid = string
type Duration = time.Duration
type Long = int64
type Version = Long
type Timestamp = Long
type Int = int32
