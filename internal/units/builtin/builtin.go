// Package builtin links every bundled unit into the default catalog.
package builtin

import (
	_ "github.com/mattjoyce/sensus-gw/internal/units/echo"
	_ "github.com/mattjoyce/sensus-gw/internal/units/inbox"
	_ "github.com/mattjoyce/sensus-gw/internal/units/oscheck"
	_ "github.com/mattjoyce/sensus-gw/internal/units/sysstat"
)
