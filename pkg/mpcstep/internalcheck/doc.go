// Package internalcheck holds static policy tests over the packages that
// handle share material.
//
// The tests load the source with golang.org/x/tools/go/packages and fail on
// hex formatting in format strings or zerolog events, and on == comparisons
// of byte slices and arrays (use crypto/subtle or bytes.Equal on public
// data). The package has no API.
package internalcheck
