package testlog

import (
	"testing"

	logs "github.com/lilith645/Maat-Network/internal/logging"
)

// Start configures the test logging profile and tags the output with the
// running test's name.
func Start(t *testing.T) {
	t.Helper()
	logs.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
