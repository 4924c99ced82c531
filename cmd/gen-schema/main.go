// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema of every bus command.
//
// Usage: gen-schema [output-dir]. The default directory is schemas/commands.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aughey/framebridge/internal/protocol"
)

func main() {
	outDir := filepath.Join("schemas", "commands")
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}

	if err := generate(outDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schemas: %v\n", err)
		os.Exit(1)
	}
}

func generate(outDir string) error {
	parser, err := protocol.DefaultParser()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	for _, name := range parser.Names() {
		schema, _ := parser.Schema(name)
		outPath := filepath.Join(outDir, name+".schema.json")
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
	return nil
}
