package main

import (
	"danawa-tracker/cmd/pricetracker/commands"
	"danawa-tracker/lib/util/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
