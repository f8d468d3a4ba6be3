package worker

import "fmt"

type errPanic struct {
	v interface{}
}

func (e errPanic) Error() string {
	return fmt.Sprintf("task panicked: %v", e.v)
}
