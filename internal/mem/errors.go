package mem

import "github.com/pkg/errors"

// Error kinds. Callers match them with errors.Is; producers wrap them with
// context via errors.Wrapf.
var (
	ErrOutOfMemory      = errors.New("out of memory")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrDoubleFree       = errors.New("region already freed")
	ErrTransfer         = errors.New("transfer failed")
	ErrReleased         = errors.New("buffer released")
	ErrDeviceClosed     = errors.New("device closed")
	ErrInvalidCount     = errors.New("invalid element count")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrUnsupported      = errors.New("unsupported")
)

// TransferError carries a driver failure unchanged while still matching
// ErrTransfer.
type TransferError struct {
	Op     string
	Device string
	Err    error
}

func (e *TransferError) Error() string {
	return e.Device + ": " + e.Op + ": " + e.Err.Error()
}

func (e *TransferError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransfer) hold for every TransferError.
func (e *TransferError) Is(target error) bool { return target == ErrTransfer }
