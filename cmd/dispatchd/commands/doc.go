// Package commands defines the dispatchd CLI.
//
// Commands
//
//   - serve    Run the HTTP API, the Telegram bot and the cleanup janitor
//   - migrate  Create or update the SQLite schema and exit
//   - sweep    Purge expired dialogue sessions and idempotency records once
//   - version  Print the build version
//
// The root command loads an optional .env file and the configuration before
// any subcommand runs, then installs the global logger.
package commands
