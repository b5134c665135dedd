package requisition

import (
	id "github.com/teranos/vanity-id"

	"github.com/teranos/reqsync/errors"
)

// GenerateID returns a readable id built from the client and title, such as
// JD47ACMEX22BACKEND33XXXXX5E7AJOB. exists reports ids already taken; it may
// be nil.
func GenerateID(client, title string, exists func(string) bool) (string, error) {
	generated, err := id.GenerateJDASIDWithRetry(client, title, "", exists)
	if err != nil {
		return "", errors.Wrap(err, "generate requisition id")
	}
	return generated, nil
}
