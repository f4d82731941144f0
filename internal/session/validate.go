package session

import (
	"fmt"
	"regexp"
)

var idRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate checks that id is usable as a session id. Ids end up in
// filesystem paths and object keys, so only a safe alphabet is allowed.
func Validate(id string) error {
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid session id %q: must match ^[A-Za-z0-9_-]{1,64}$", id)
	}
	return nil
}
