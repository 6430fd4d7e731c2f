// Package credential resolves named secrets through a local-DB, fallback-DB,
// environment-variable chain and never exposes raw values outside store/resolve.
package credential
