package memutils

import (
	"github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

// CheckPow2 returns PowerOfTwoError, annotated with the provided name, if number is not a
// positive power of two
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	if alignment <= 1 {
		return value
	}
	return value & int(^(alignment - 1))
}

// MaxAlignment returns the larger of two power-of-two alignments, treating 0 as 1
func MaxAlignment(left, right uint) uint {
	if left < 1 {
		left = 1
	}
	if right > left {
		return right
	}
	return left
}
