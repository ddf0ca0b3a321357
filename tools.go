//go:build tools

// Package tools tracks mockgen as a module dependency for go generate.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
