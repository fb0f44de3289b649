// complyd validates compliance evidence against a policy catalog.
//
// Usage:
//
//	# Run the HTTP API
//	complyd serve
//
//	# Validate evidence once and print the decision
//	complyd validate --url https://ci.example.com/build/42/report.json --policy POL-101
//
//	# Check a policy catalog file
//	complyd policies lint configs/policies.yaml
//
// Configuration is read from COMPLYD_* environment variables.
package main

func main() {
	Execute()
}
