// Package docs provides generated OpenAPI documentation.
//
// takeoff API
//
//	@title			takeoff API
//	@version		1.0
//	@description	Upload architectural plan sets, poll processing status and fetch quantity takeoffs with preliminary cost estimates.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/takeoff
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/takeoff/serve.go -o ./swagger --parseDependency --parseInternal
