package media

import (
	"testing"

	"scrubnotes/internal/testutil"
)

func TestUploaderUsesBlobFacadeOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.DriverImport, "drivers are chosen by blob.Open")
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImport, "uploads take a plain File")
}
