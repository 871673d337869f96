package core

import (
	"testing"

	"packforge/testutil"
)

func TestCoreReachesDriversThroughInfraOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.DriverImportForbidden, "core opens stores through internal/infra")
}
