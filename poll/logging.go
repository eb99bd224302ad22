package poll

import (
	"correlatest/client"
	"correlatest/logging"
)

var lp *logging.LogProvider

func init() {
	lp = logging.GetLogProviderInstance(client.ID())
}
