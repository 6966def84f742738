package orders

import "fmt"

// ItemError указывает позицию пакета, на которой запрос был отклонён.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item[%d]: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
