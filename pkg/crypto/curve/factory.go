package curve

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Default is the curve used when configuration does not name one.
const Default = "babyjubjub"

// ErrUnsupportedCurve is returned by FromName for unknown identifiers.
var ErrUnsupportedCurve = errors.New("unsupported curve")

// FromName returns a Curve implementation that matches the provided name.
// An empty name selects Default.
func FromName(name string) (Curve, error) {
	switch strings.ToLower(name) {
	case "", "babyjubjub", "bjj":
		return NewBabyJubJub(), nil
	case "secp256k1":
		return NewSecp256k1(), nil
	case "ristretto255":
		return NewRistretto255(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedCurve, "%q", name)
	}
}

// SupportedCurves lists the curve identifiers understood by FromName.
func SupportedCurves() []string {
	return []string{"babyjubjub", "secp256k1", "ristretto255"}
}
