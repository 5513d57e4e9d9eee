package chain

import "errors"

var (
	ErrInsufficientBalance   = errors.New("chain: insufficient balance")
	ErrInsufficientAllowance = errors.New("chain: insufficient allowance")
	ErrNotOwner              = errors.New("chain: caller is not owner nor approved")
	ErrInvalidAmount         = errors.New("chain: invalid amount")
	ErrNotUpdater            = errors.New("chain: caller may not update feed")
	ErrTokenExists           = errors.New("chain: token already minted")
	ErrUnknownContract       = errors.New("chain: no such contract")
	ErrUnsupported           = errors.New("chain: operation not supported by contract")
)
