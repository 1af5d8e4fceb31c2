package descriptor

import (
	"fmt"
	"strings"
)

const (
	// checksumInputCharset orders the characters a descriptor may use so
	// that the ones most likely to be confused share a low 5 bit symbol.
	checksumInputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set of the checksum.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// ChecksumLen is the number of characters of a checksum.
	ChecksumLen = 8
)

var checksumGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(c uint64, val int) uint64 {
	top := c >> 35
	c = (c&0x7ffffffff)<<5 ^ uint64(val)
	for i, g := range checksumGenerator {
		if (top>>uint(i))&1 == 1 {
			c ^= g
		}
	}
	return c
}

// Checksum returns the 8 character checksum of a descriptor without its
// '#' suffix.
func Checksum(desc string) (string, error) {
	c := uint64(1)
	cls, clsCount := 0, 0
	for _, ch := range desc {
		pos := strings.IndexRune(checksumInputCharset, ch)
		if pos < 0 {
			str := fmt.Sprintf("character %q cannot be covered by a "+
				"checksum", ch)
			return "", descError(ErrBadChecksum, str)
		}

		// Symbol within the group, then the group of every third
		// character.
		c = polymod(c, pos&31)
		cls = cls*3 + pos>>5
		clsCount++
		if clsCount == 3 {
			c = polymod(c, cls)
			cls, clsCount = 0, 0
		}
	}
	if clsCount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < ChecksumLen; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for i := 0; i < ChecksumLen; i++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-uint(i))))&31])
	}
	return sb.String(), nil
}

// WithChecksum appends '#' and the checksum to a descriptor.
func WithChecksum(desc string) (string, error) {
	checksum, err := Checksum(desc)
	if err != nil {
		return "", err
	}
	return desc + "#" + checksum, nil
}

// stripChecksum verifies and removes the checksum of a descriptor. A
// descriptor without one is returned as is.
func stripChecksum(desc string) (string, error) {
	i := strings.LastIndexByte(desc, '#')
	if i < 0 {
		return desc, nil
	}
	body, got := desc[:i], desc[i+1:]
	if len(got) != ChecksumLen {
		str := fmt.Sprintf("checksum %q has %d characters, expected %d",
			got, len(got), ChecksumLen)
		return "", descError(ErrBadChecksum, str)
	}
	want, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if got != want {
		str := fmt.Sprintf("checksum %s does not match %s for %q", got,
			want, body)
		return "", descError(ErrBadChecksum, str)
	}
	return body, nil
}
