package deobf

import (
	"fmt"
	"time"
)

// Result records one decryption attempt.
type Result struct {
	Class     string
	CPIndex   uint16
	Original  string
	Decrypted string
	// Decryptor is the method that produced the plaintext, as
	// owner.name+descriptor.
	Decryptor string
	Success   bool
	Error     string
	Elapsed   time.Duration
	// Applied is set once the plaintext has been patched into the class.
	Applied bool
}

// Status returns "Applied", "Decrypted" or "Failed".
func (r *Result) Status() string {
	switch {
	case !r.Success:
		return "Failed"
	case r.Applied:
		return "Applied"
	}
	return "Decrypted"
}

// Location returns SimpleName:index.
func (r *Result) Location() string {
	return fmt.Sprintf("%s:%d", simpleName(r.Class), r.CPIndex)
}

func (r *Result) String() string {
	if !r.Success {
		return fmt.Sprintf("%s: %q -> ERROR: %s", r.Location(), truncate(r.Original, 30), r.Error)
	}
	return fmt.Sprintf("%s: %q -> %q", r.Location(), truncate(r.Original, 30), truncate(r.Decrypted, 30))
}
