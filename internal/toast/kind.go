package toast

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned by ParseKind for names outside the closed set.
var ErrUnknownKind = errors.New("toast: unknown kind")

type kindValue uint8

const (
	kindInfo kindValue = iota
	kindSuccess
	kindWarning
	kindError
)

// Kind is the display category of a notification.
//
// The zero value is KindInfo. Values outside the closed set cannot be built
// from outside the package; strings are converted with ParseKind.
type Kind struct{ v kindValue }

var (
	KindInfo    = Kind{kindInfo}
	KindSuccess = Kind{kindSuccess}
	KindWarning = Kind{kindWarning}
	KindError   = Kind{kindError}
)

// Kinds lists every kind in ascending severity.
func Kinds() []Kind { return []Kind{KindInfo, KindSuccess, KindWarning, KindError} }

func (k Kind) String() string {
	switch k.v {
	case kindSuccess:
		return "success"
	case kindWarning:
		return "warning"
	case kindError:
		return "error"
	default:
		return "info"
	}
}

// Severity orders kinds: info < success < warning < error.
func (k Kind) Severity() int { return int(k.v) }

// AtLeast reports whether k is as severe as min.
func (k Kind) AtLeast(min Kind) bool { return k.v >= min.v }

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return KindInfo, nil
	case "success":
		return KindSuccess, nil
	case "warning", "warn":
		return KindWarning, nil
	case "error":
		return KindError, nil
	}
	return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
