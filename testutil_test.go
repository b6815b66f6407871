// testutil_test.go -- shared test helpers
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package brz

import "testing"

// newAsserter returns a closure that fails the test with a formatted
// message when cond is false. Used throughout this package's tests in
// place of a third-party assertion library.
func newAsserter(t *testing.T) func(cond bool, format string, args ...interface{}) {
	t.Helper()
	return func(cond bool, format string, args ...interface{}) {
		if !cond {
			t.Helper()
			t.Fatalf(format, args...)
		}
	}
}
