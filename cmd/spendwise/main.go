// Spendwise meter records AI provider usage, attributes its cost to
// organizations and users, and enforces budgets and spend limits.
//
// Usage:
//
//	# Start the metering API with the default configuration
//	spendwise run
//
//	# Start with a custom configuration file
//	spendwise run --config /etc/spendwise/config.yaml
//
//	# Reconcile cached budget spend against the ledger once
//	spendwise reconcile --output json
//
//	# Price a call without recording it
//	spendwise price --provider openai --model gpt-4o --prompt 1200 --completion 300
//
//	# Validate the configuration file
//	spendwise validate
package main

func main() {
	Execute()
}
