package morse

import "errors"

var (
	ErrInvalidDuration      = errors.New("morse: invalid duration")
	ErrUnsupportedCharacter = errors.New("morse: unsupported character")
	ErrUnknownSymbolSystem  = errors.New("morse: unknown symbol system")
	ErrInvalidSpeed         = errors.New("morse: invalid speed")
	ErrSequenceTooLong      = errors.New("morse: code sequence too long")
	ErrCallbackRequired     = errors.New("morse: reader callback required")
	ErrInvalidSmoothing     = errors.New("morse: smoothing must be between 0 and 1")
)
