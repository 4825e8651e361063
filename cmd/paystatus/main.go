package main

import (
	"gymbot-backend/cmd/paystatus/commands"
	"gymbot-backend/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
