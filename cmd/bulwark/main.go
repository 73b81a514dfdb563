// Package main is the entry point for bulwark.
//
//	@title						Bulwark API
//	@version					1.0
//	@description				Resilience layer: circuit breakers, rate limiting, error envelopes and audit trail.
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@BasePath					/
//
//	@securityDefinitions.apikey	AdminAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token whose bcrypt hash is configured as admin.token_hash
package main

func main() {
	Execute()
}
