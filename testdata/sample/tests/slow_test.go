//gjest:skip needs network access
package tests

import "testing"

func TestBulkImport(t *testing.T) {}
