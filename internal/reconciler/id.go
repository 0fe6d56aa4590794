package reconciler

import "github.com/google/uuid"

func newTaskID() string { return uuid.NewString() }
