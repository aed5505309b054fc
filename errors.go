package leftright

import "errors"

// ErrAlreadyTaken is returned by Take when the WriteHandle's inner
// value has already been reclaimed by an earlier Take call (or by the
// finalizer running first). It is a safe no-op, not a bug.
var ErrAlreadyTaken = errors.New("leftright: already taken")

// ErrReaderDeparted is returned by ReadHandle.Enter once the writer
// has taken the structure apart: the foreground pointer has been set
// to nil and no further reads are possible through this handle.
var ErrReaderDeparted = errors.New("leftright: foreground has been taken")
