package scheduler

import "time"

// DefaultSchedule checks pending requests every two minutes, a little more
// often than voting rounds close.
const DefaultSchedule = "*/2 * * * *"

// MaxEntriesPerRun limits the number of pending requests resumed in a single run
const MaxEntriesPerRun = 20

// DefaultConcurrency is the number of flows resumed at the same time
const DefaultConcurrency = 4

// DefaultFlowTimeout bounds a single resumed flow
const DefaultFlowTimeout = 10 * time.Minute
