// Command dispatchd runs the service-request dispatcher.
//
//	@title						Dispatch API
//	@version					1.0
//	@description				Service-request intake and specialist dispatch.
//	@BasePath					/api/v1
//	@schemes					http https
package main

import (
	"os"

	"github.com/tbourn/go-dispatch-backend/cmd/dispatchd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
