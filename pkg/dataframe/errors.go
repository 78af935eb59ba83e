package dataframe

import "errors"

// ErrFieldIndexOutOfRange is returned by Sort when the requested column does not exist.
var ErrFieldIndexOutOfRange = errors.New("field index out of range")
