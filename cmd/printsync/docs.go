package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           printsync API
// @version         1.0
// @description     Ops API for the Moonraker to document store bridge.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
