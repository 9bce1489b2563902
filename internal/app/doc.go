// Package app wires the dispatcher's dependencies for the commands.
//
// New builds the stores, the notification gateway, the services, the HTTP
// server, the Telegram poller and the janitor from config.Config. Run drives
// them under one errgroup until the context ends, then drains in-flight
// broadcasts.
package app
