package builds_test

import (
	"testing"

	"packforge/testutil"
)

func TestHandlerDependsOnServiceOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InfraImportForbidden, testutil.DriverImportForbidden),
		"the HTTP adapter drives core.Service and never touches storage")
}
