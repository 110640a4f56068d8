package minifs

import (
	"fmt"
	"strings"

	"github.com/elliotwutingfeng/asciiset"
)

// validNameChars is printable ASCII except for the path separator
var validNameChars = func() asciiset.ASCIISet {
	var chars strings.Builder
	for c := byte(0x20); c < 0x7f; c++ {
		if c != '/' {
			chars.WriteByte(c)
		}
	}
	set, _ := asciiset.MakeASCIISet(chars.String())
	return set
}()

// validateName checks that name can be stored in an inode and is not reserved
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: %q is %d bytes, max %d", ErrInvalidName, name, len(name), MaxNameLength)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	for i := 0; i < len(name); i++ {
		if !validNameChars.Contains(name[i]) {
			return fmt.Errorf("%w: %q contains illegal character %#02x", ErrInvalidName, name, name[i])
		}
	}
	return nil
}

// sameName compares a name as it would be stored in the name field
func sameName(stored, name string) bool {
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return stored == name
}
